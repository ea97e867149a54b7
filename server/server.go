/*
 * HierDB
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package server contains the embedded server which exposes the
hierarchy store. Commands are accepted as JSON requests and
subscription notifications are delivered over websockets through the
publisher.
*/
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"

	"devt.de/krotik/common/errorutil"
	"devt.de/krotik/common/httputil"
	"devt.de/krotik/common/logutil"
	"devt.de/krotik/common/timeutil"
	"github.com/gorilla/websocket"

	"devt.de/krotik/hierdb/command"
	"devt.de/krotik/hierdb/config"
	"devt.de/krotik/hierdb/events"
	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
log is the logger of the server package.
*/
var log = logutil.GetLogger("hierdb.server")

/*
EndpointCommand is the endpoint URL for command execution.
*/
const EndpointCommand = "/db/command"

/*
EndpointEvents is the endpoint URL for subscription notifications.
*/
const EndpointEvents = "/db/events"

/*
upgrader can upgrade normal requests to websocket communications
*/
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

/*
commandRequest is the body of a command execution request.
*/
type commandRequest struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

/*
Server is an embedded hierarchy store server.
*/
type Server struct {
	Registry  *command.Registry
	Publisher *events.Publisher

	cron *timeutil.Cron
	hs   *httputil.HTTPServer
	wg   sync.WaitGroup

	cmdLock sync.Mutex // Commands run under a single writer
}

/*
NewServer creates a new server using the loaded configuration.
*/
func NewServer() *Server {
	s := &Server{
		Registry:  command.NewRegistry(),
		Publisher: events.NewPublisher(int(config.Int(config.PublisherRingSize))),
		cron:      timeutil.NewCron(),
	}

	// A single environment variable can point the publisher at a host
	// port - otherwise the configured endpoint is used

	remote := config.Str(config.PublisherRemoteEndpoint)

	if port := os.Getenv(events.EnvHostPort); port != "" {
		remote = fmt.Sprintf("ws://localhost:%v%v", port, EndpointEvents)
	}

	if remote != "" {
		s.Publisher.SetRemote(remote)
	}

	return s
}

/*
Hierarchy returns a named hierarchy wired to the publisher and the
autocompression scheduler.
*/
func (s *Server) Hierarchy(name string) *Handle {
	h := s.Registry.Get(name)

	h.SetEventSink(s.Publisher)
	h.SetDetachedDir(config.Str(config.LocationDetached))
	h.SetInactiveRingSize(int(config.Int(config.InactiveRingSize)))

	if config.Bool(config.EnableAutoCompression) {
		h.StartAutoCompression(s.cron, config.Str(config.AutoCompressionSpec),
			config.Int(config.AutoCompressionAgeMs))
	}

	return &Handle{s, name}
}

/*
Handle is a named hierarchy of a running server.
*/
type Handle struct {
	s    *Server
	name string
}

/*
Run executes a command against this hierarchy.
*/
func (hh *Handle) Run(cmd string, args ...string) (interface{}, error) {
	hh.s.cmdLock.Lock()
	defer hh.s.cmdLock.Unlock()

	return hh.s.Registry.Dispatch(cmd, append([]string{hh.name}, args...)...)
}

/*
Start brings up the publisher, the autocompression scheduler and the
HTTP endpoints.
*/
func (s *Server) Start() error {
	ensurePath(config.Str(config.LocationDetached))

	s.Publisher.Start()
	s.cron.Start()

	http.HandleFunc(EndpointCommand, s.handleCommand)
	http.HandleFunc(EndpointEvents, s.handleEvents)

	laddr := fmt.Sprintf("%v:%v", config.Str(config.HTTPHost), config.Str(config.HTTPPort))

	s.hs = &httputil.HTTPServer{}

	s.wg.Add(1)
	go s.hs.RunHTTPServer(laddr, &s.wg)

	// Wait for the HTTP server to come up

	s.wg.Wait()

	if s.hs.LastError != nil {
		s.Stop()
		return s.hs.LastError
	}

	log.Info("Server running on ", laddr)

	return nil
}

/*
Stop shuts the server down.
*/
func (s *Server) Stop() {
	if s.hs != nil && s.hs.Running {
		s.wg.Add(1)
		s.hs.Shutdown()
		s.wg.Wait()
	}

	s.cron.Stop()
	s.Publisher.Stop()
}

/*
handleCommand executes a single command request.
*/
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.cmdLock.Lock()
	res, err := s.Registry.Dispatch(req.Name, req.Args...)
	s.cmdLock.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": err.Error(),
			"code":  util.Code(err),
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{"result": res})
}

/*
handleEvents upgrades a request to a websocket connection which
receives subscription notifications.
*/
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		w.Write([]byte(err.Error()))
		return
	}

	s.Publisher.Subscribe(conn)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"init_success"}`))

	// Keep reading until the subscriber goes away

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.Publisher.Unsubscribe(conn)
				conn.Close()
				return
			}
		}
	}()
}

/*
ensurePath ensures that a given relative path exists.
*/
func ensurePath(path string) {
	if res, _ := fileExists(path); !res {
		errorutil.AssertOk(os.MkdirAll(path, 0770))
	}
}

/*
fileExists checks if a file or directory exists.
*/
func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)

	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

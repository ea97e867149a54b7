/*
 * HierDB
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"devt.de/krotik/hierdb/command"
	"devt.de/krotik/hierdb/events"
)

/*
newTestServer creates a server without network endpoints.
*/
func newTestServer() *Server {
	return &Server{
		Registry:  command.NewRegistry(),
		Publisher: events.NewPublisher(8),
	}
}

func TestCommandEndpoint(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest("POST", EndpointCommand,
		strings.NewReader(`{"name":"hierarchy.heads","args":["main"]}`))
	w := httptest.NewRecorder()

	s.handleCommand(w, req)

	if w.Code != 200 {
		t.Error("Unexpected status:", w.Code, w.Body.String())
		return
	}

	var res map[string]interface{}

	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Error(err)
		return
	}

	if res["result"] == nil || !strings.Contains(w.Body.String(), "root") {
		t.Error("Unexpected reply:", w.Body.String())
		return
	}

	// Errors carry their external code

	req = httptest.NewRequest("POST", EndpointCommand,
		strings.NewReader(`{"name":"hierarchy.parents","args":["main","missing"]}`))
	w = httptest.NewRecorder()

	s.handleCommand(w, req)

	if w.Code != 400 || !strings.Contains(w.Body.String(), "ENOENT") {
		t.Error("Unexpected error reply:", w.Code, w.Body.String())
		return
	}

	// Malformed requests are rejected

	req = httptest.NewRequest("POST", EndpointCommand, strings.NewReader("{"))
	w = httptest.NewRecorder()

	s.handleCommand(w, req)

	if w.Code != 400 {
		t.Error("Malformed request should be rejected:", w.Code)
		return
	}
}

func TestHierarchyHandle(t *testing.T) {
	s := newTestServer()

	hh := &Handle{s, "main"}

	res, err := hh.Run("modify", "n1", "N")
	if err != nil {
		t.Error(err)
		return
	}

	if len(res.([]interface{})) != 2 {
		t.Error("Unexpected reply:", res)
		return
	}

	res, err = hh.Run("hierarchy.heads")
	if err != nil || !strings.Contains(strings.Join(res.([]string), " "), "n1") {
		t.Error("Unexpected heads:", res, err)
		return
	}
}

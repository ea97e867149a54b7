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
Package events contains the publisher which forwards subscription
notifications to external subscribers.

The hierarchy hands deferred notifications to the publisher through
a bounded ring buffer. A worker drains the ring and broadcasts every
notification to the connected websocket subscribers and - if a remote
endpoint is configured - forwards it over an outbound websocket
connection. When the ring is full new notifications are dropped and
counted - delivery is at-most-once.
*/
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"devt.de/krotik/common/datautil"
	"devt.de/krotik/common/logutil"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"devt.de/krotik/hierdb/hierarchy"
)

/*
log is the logger of the events package.
*/
var log = logutil.GetLogger("hierdb.events")

/*
UpdateChannelPrefix is the channel prefix of subscription update
notifications. The payload of an update is empty.
*/
const UpdateChannelPrefix = "subscription.update:"

/*
TriggerChannelPrefix is the channel prefix of subscription trigger
notifications. The payload of a trigger is the affected node id.
*/
const TriggerChannelPrefix = "subscription.trigger:"

/*
EnvHostPort is the environment variable naming the host port used by
the publisher worker connection.
*/
const EnvHostPort = "HIERDB_HOST_PORT"

/*
Notification is a single outbound notification.
*/
type Notification struct {
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

/*
Publisher forwards subscription notifications to external
subscribers. It implements the event sink interface of the
hierarchy.
*/
type Publisher struct {
	ring     *datautil.RingBuffer
	capacity int
	dropped  int64

	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	connLock sync.Mutex
	conns    map[*websocket.Conn]struct{}

	remoteURL string
	remote    *websocket.Conn
}

/*
NewPublisher creates a new publisher with a given ring buffer
capacity.
*/
func NewPublisher(capacity int) *Publisher {
	return &Publisher{
		ring:     datautil.NewRingBuffer(capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

/*
SetRemote configures an outbound websocket endpoint which receives
all notifications. The worker connects lazily and reconnects with
exponential backoff.
*/
func (p *Publisher) SetRemote(url string) {
	p.remoteURL = url
}

/*
Dropped returns the number of notifications which were dropped
because the ring buffer was full.
*/
func (p *Publisher) Dropped() int64 {
	return atomic.LoadInt64(&p.dropped)
}

/*
PublishUpdate enqueues a subscription update notification.
*/
func (p *Publisher) PublishUpdate(sub hierarchy.SubscriptionId) {
	p.enqueue(&Notification{Channel: UpdateChannelPrefix + sub.String()})
}

/*
PublishTrigger enqueues a subscription trigger notification carrying
the affected node id.
*/
func (p *Publisher) PublishTrigger(sub hierarchy.SubscriptionId, node hierarchy.NodeId) {
	p.enqueue(&Notification{
		Channel: TriggerChannelPrefix + sub.String(),
		Payload: node.String(),
	})
}

/*
enqueue hands a notification to the worker. When the ring is full
the notification is dropped and counted.
*/
func (p *Publisher) enqueue(n *Notification) {
	if p.ring.Size() >= p.capacity {
		dropped := atomic.AddInt64(&p.dropped, 1)
		log.Warning("Publisher ring is full - dropped notification (total: ", dropped, ")")
		return
	}

	p.ring.Add(n)

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

/*
Start runs the publisher worker.
*/
func (p *Publisher) Start() {
	p.stop = make(chan struct{})
	p.wg.Add(1)

	go p.run()
}

/*
Stop shuts the publisher worker down after draining the ring.
*/
func (p *Publisher) Stop() {
	close(p.stop)
	p.wg.Wait()

	p.connLock.Lock()
	defer p.connLock.Unlock()

	for conn := range p.conns {
		conn.Close()
	}
	p.conns = make(map[*websocket.Conn]struct{})

	if p.remote != nil {
		p.remote.Close()
		p.remote = nil
	}
}

/*
run is the worker loop.
*/
func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			p.drain()
			return
		case <-p.notify:
			p.drain()
		}
	}
}

/*
drain broadcasts all buffered notifications.
*/
func (p *Publisher) drain() {
	for {
		v := p.ring.Poll()
		if v == nil {
			return
		}

		n := v.(*Notification)

		msg, err := json.Marshal(n)
		if err != nil {
			continue
		}

		p.broadcast(msg)
		p.forward(msg)
	}
}

/*
Subscribe registers a websocket connection as a notification
subscriber.
*/
func (p *Publisher) Subscribe(conn *websocket.Conn) {
	p.connLock.Lock()
	defer p.connLock.Unlock()

	p.conns[conn] = struct{}{}
}

/*
Unsubscribe removes a websocket connection.
*/
func (p *Publisher) Unsubscribe(conn *websocket.Conn) {
	p.connLock.Lock()
	defer p.connLock.Unlock()

	delete(p.conns, conn)
}

/*
broadcast writes a message to all connected subscribers. Connections
which fail are dropped.
*/
func (p *Publisher) broadcast(msg []byte) {
	p.connLock.Lock()
	defer p.connLock.Unlock()

	for conn := range p.conns {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(p.conns, conn)
		}
	}
}

/*
forward writes a message to the configured remote endpoint
connecting with exponential backoff if necessary.
*/
func (p *Publisher) forward(msg []byte) {
	if p.remoteURL == "" {
		return
	}

	if p.remote == nil {

		err := backoff.Retry(func() error {
			conn, _, err := websocket.DefaultDialer.Dial(p.remoteURL, nil)
			if err != nil {
				return err
			}
			p.remote = conn
			return nil
		}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5))

		if err != nil {
			log.Warning(fmt.Sprintf("Could not connect to %v: %v", p.remoteURL, err))
			return
		}
	}

	if err := p.remote.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Warning("Lost connection to remote endpoint: ", err)
		p.remote.Close()
		p.remote = nil
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nzlov/carewire/internal/pubsub"
	"github.com/nzlov/carewire/internal/signaling"
	"github.com/nzlov/carewire/internal/transport"
)

// Node keeps the sockets of one relay process. Signaling frames go to every
// socket registered for the recipient; pub/sub messages go to every socket
// joined to the message's channel. With redis enabled the same delivery is
// repeated on every other node.
type Node struct {
	cfg Config
	log *zap.SugaredLogger

	// Registered clients.
	clients *sync.Map

	mu       sync.RWMutex
	users    map[string]map[*Client]struct{}
	channels map[string]map[*Client]struct{}

	rdb  *redis.Client
	rpub *redis.PubSub

	id     atomic.Uint64
	closed chan struct{}

	upgrader websocket.Upgrader
}

func newNode(cfg Config) (*Node, error) {
	cfg.defaults()
	n := &Node{
		cfg:      cfg,
		log:      zap.S().With("node", cfg.Redis.Name),
		clients:  &sync.Map{},
		users:    map[string]map[*Client]struct{}{},
		channels: map[string]map[*Client]struct{}{},
		closed:   make(chan struct{}),
	}

	n.upgrader = websocket.Upgrader{
		ReadBufferSize:    cfg.Client.ReadBufferSize,
		WriteBufferSize:   cfg.Client.WriteBufferSize,
		EnableCompression: cfg.Client.Compression,
	}
	n.upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}
	if cfg.Redis.Enable {
		n.rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Host,
			DialTimeout:  10 * time.Second,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			PoolSize:     10,
			PoolTimeout:  30 * time.Second,
		})
		if err := n.rdb.Ping(context.Background()).Err(); err != nil {
			n.rdb.Close()
			return nil, err
		}
		n.rpub = n.rdb.Subscribe(context.Background(), cfg.Redis.Channel)
		go n.clusterRev()

		n.log.Infow("redis cluster enabled", "channel", cfg.Redis.Channel)
	}
	return n, nil
}

// Handler routes the relay endpoints.
func (n *Node) Handler() http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/ws", n.serveWs)
	m.HandleFunc("/admin/publish", n.adminPublish)
	m.Handle("/metrics", promhttp.Handler())
	m.HandleFunc("/healthz", n.healthz)
	return m
}

func (n *Node) healthz(w http.ResponseWriter, r *http.Request) {
	if n.rdb != nil {
		if err := n.rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Write([]byte("ok"))
}

func (n *Node) clusterRev() {
	log := n.log.With("method", "clusterRev")
	defer func() {
		if err := recover(); err != nil {
			log.Error("clusterRev panic: ", err)
			select {
			case <-n.closed:
			default:
				go n.clusterRev()
			}
		}
	}()
	for msg := range n.rpub.Channel() {
		n.onCluster(msg.Payload)
	}
}

// onCluster delivers a frame published by another node.
func (n *Node) onCluster(payload string) {
	m := ClusterMessage{}
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		n.log.Warnw("cluster message", "error", err)
		return
	}
	if m.NodeName == n.cfg.Redis.Name {
		return
	}
	clusterTotal.WithLabelValues("in").Inc()
	n.log.Debugw("cluster message", "from", m.NodeName, "target", m.Target)
	n.deliverLocal(m.Target, m.Frame, originCluster)
}

func (n *Node) Close() {
	select {
	case <-n.closed:
		return
	default:
		close(n.closed)
	}
	if n.rpub != nil {
		n.rpub.Close()
	}
	if n.rdb != nil {
		n.rdb.Close()
	}
	n.clients.Range(func(k, _ any) bool {
		k.(*Client).closeSend()
		return true
	})
}

// Register binds c to user so peer frames addressed to user reach it.
func (n *Node) Register(c *Client, user string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.users[user]
	if !ok {
		set = map[*Client]struct{}{}
		n.users[user] = set
	}
	set[c] = struct{}{}
}

// Join subscribes c to the channels its identity allows. Requested channels
// outside that set are ignored; an empty request joins all of them.
func (n *Node) Join(c *Client, requested []string) []string {
	allowed := pubsub.Channels(c.identity())
	joined := allowed
	if len(requested) > 0 {
		ok := map[string]bool{}
		for _, ch := range allowed {
			ok[ch] = true
		}
		joined = nil
		for _, ch := range requested {
			if ok[ch] {
				joined = append(joined, ch)
			}
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range joined {
		set, ok := n.channels[ch]
		if !ok {
			set = map[*Client]struct{}{}
			n.channels[ch] = set
		}
		set[c] = struct{}{}
	}
	return joined
}

func (n *Node) UnRegister(c *Client) {
	if _, ok := n.clients.LoadAndDelete(c); !ok {
		return
	}
	connectedSockets.Dec()
	c.log.Info("unregister")

	n.mu.Lock()
	for user, set := range n.users {
		delete(set, c)
		if len(set) == 0 {
			delete(n.users, user)
		}
	}
	for ch, set := range n.channels {
		delete(set, c)
		if len(set) == 0 {
			delete(n.channels, ch)
		}
	}
	n.mu.Unlock()
	c.closeSend()
}

// Publish delivers frame to t on this node and, with redis enabled, on
// every other node.
func (n *Node) Publish(t Target, frame []byte, origin string) int {
	delivered := n.deliverLocal(t, frame, origin)
	if n.rdb == nil {
		return delivered
	}
	d, err := json.Marshal(ClusterMessage{
		NodeName:  n.cfg.Redis.Name,
		Target:    t,
		Frame:     frame,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		n.log.Errorw("cluster marshal", "error", err)
		return delivered
	}
	if err := n.rdb.Publish(context.Background(), n.cfg.Redis.Channel, d).Err(); err != nil {
		n.log.Warnw("cluster publish", "error", err)
		return delivered
	}
	clusterTotal.WithLabelValues("out").Inc()
	return delivered
}

func (n *Node) deliverLocal(t Target, frame []byte, origin string) int {
	var targets []*Client
	n.mu.RLock()
	set := n.channels[t.Channel]
	if t.User != "" {
		set = n.users[t.User]
	}
	for c := range set {
		targets = append(targets, c)
	}
	n.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.deliver(frame) {
			delivered++
		}
	}
	deliveredTotal.WithLabelValues(origin).Add(float64(delivered))
	return delivered
}

func (n *Node) ClientHandler(c *Client, data []byte) {
	defer func() {
		if err := recover(); err != nil {
			c.log.Errorw("handler panic", "error", err)
		}
	}()

	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		countFrame("", resultDropped)
		c.log.Warnw("malformed frame", "error", err)
		return
	}

	switch h.kind() {
	case kindKeepAlive:
	case kindRegister:
		n.handleRegister(c, h)
	case kindPeer:
		n.handlePeer(c, h, data)
	case kindJoin:
		n.handleJoin(c, data)
	case kindPubSub:
		n.handlePubSub(c, h, data)
	default:
		countFrame("unknown", resultDropped)
		c.log.Warnw("unknown frame type", "type", h.Type)
	}
}

func (n *Node) handleRegister(c *Client, h header) {
	if h.UserID == "" {
		countFrame(h.Type, resultDropped)
		c.log.Warn("register without userId")
		return
	}
	if !c.setIdentity(transport.Identity{UserID: h.UserID}) {
		countFrame(h.Type, resultDenied)
		c.log.Warnw("register for another user", "userId", h.UserID)
		return
	}
	n.Register(c, h.UserID)
	countFrame(h.Type, resultOK)
	c.log.Infow("registered", "userId", h.UserID)
}

func (n *Node) handlePeer(c *Client, h header, data []byte) {
	from := c.user()
	if from == "" {
		countFrame(h.Type, resultDenied)
		c.log.Warnw("peer frame before register", "type", h.Type)
		return
	}
	if h.To == "" {
		countFrame(h.Type, resultDropped)
		c.log.Warnw("peer frame without recipient", "type", h.Type)
		return
	}
	var env signaling.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		countFrame(h.Type, resultDropped)
		c.log.Warnw("malformed envelope", "error", err)
		return
	}
	env.From = from
	frame, err := json.Marshal(env)
	if err != nil {
		c.log.Errorw("marshal envelope", "error", err)
		return
	}
	delivered := n.Publish(Target{User: h.To}, frame, originLocal)
	countFrame(h.Type, resultOK)
	c.log.Debugw("forward", "type", h.Type, "to", h.To, "local_sockets", delivered)
}

func (n *Node) handleJoin(c *Client, data []byte) {
	var m pubsub.Message
	if err := json.Unmarshal(data, &m); err != nil {
		countFrame(string(pubsub.TypeJoin), resultDropped)
		c.log.Warnw("malformed join", "error", err)
		return
	}
	var j pubsub.Join
	if err := json.Unmarshal(m.Data, &j); err != nil || j.UserID == "" {
		countFrame(string(pubsub.TypeJoin), resultDropped)
		c.log.Warnw("join without user", "error", err)
		return
	}
	if !c.setIdentity(transport.Identity{UserID: j.UserID, Role: transport.Role(j.Role)}) {
		countFrame(string(pubsub.TypeJoin), resultDenied)
		c.log.Warnw("join for another user", "userId", j.UserID)
		return
	}
	joined := n.Join(c, j.Channels)
	countFrame(string(pubsub.TypeJoin), resultOK)
	c.log.Infow("joined", "channels", joined)
}

func (n *Node) handlePubSub(c *Client, h header, data []byte) {
	var m pubsub.Message
	if err := json.Unmarshal(data, &m); err != nil {
		countFrame(h.Type, resultDropped)
		c.log.Warnw("malformed message", "error", err)
		return
	}
	sender := c.user()
	if sender == "" {
		countFrame(h.Type, resultDenied)
		c.log.Warnw("message before join", "type", h.Type)
		return
	}
	m.Sender = sender
	if _, err := n.route(m, originLocal); err != nil {
		countFrame(h.Type, resultDropped)
		c.log.Warnw("route message", "type", h.Type, "error", err)
		return
	}
	countFrame(h.Type, resultOK)
}

// route stamps a missing timestamp and publishes m to its channel.
func (n *Node) route(m pubsub.Message, origin string) (string, error) {
	if !m.Type.Known() {
		return "", fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
	frame, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	ch := pubsub.ChannelFor(m)
	n.Publish(Target{Channel: ch}, frame, origin)
	return ch, nil
}

// serveWs handles websocket requests from the peer.
func (n *Node) serveWs(w http.ResponseWriter, r *http.Request) {
	var claims *Claims
	if n.cfg.Secret != "" {
		var err error
		claims, err = ParseToken(n.cfg.Secret, tokenFromRequest(r))
		if err != nil {
			n.log.Warnw("reject socket", "remote", r.RemoteAddr, "error", err)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Warnw("upgrade", "error", err)
		return
	}
	cid := n.id.Add(1)
	client := &Client{
		cid:  cid,
		node: n,
		conn: conn,
		send: make(chan []byte, n.cfg.Client.SendBuffer),
		log:  n.log.With("cid", cid),
	}
	if claims != nil {
		client.authed = true
		client.id = claims.Identity()
		client.log = client.log.With("user", claims.UserID, "role", claims.Role)
	}
	if n.cfg.RateLimit.PerSecond > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(n.cfg.RateLimit.PerSecond), n.cfg.RateLimit.Burst)
	}
	if n.cfg.Client.Compression {
		client.conn.EnableWriteCompression(true)
		client.conn.SetCompressionLevel(n.cfg.Client.CompressionLevel)
	}
	n.clients.Store(client, struct{}{})
	connectedSockets.Inc()
	client.log.Infow("connected", "remote", r.RemoteAddr)

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}

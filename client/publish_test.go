package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzlov/carewire/internal/pubsub"
)

func TestPublishSignsBody(t *testing.T) {
	now := time.Unix(1717329600, 0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts := r.URL.Query().Get("ts")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, strconv.FormatInt(now.Unix(), 10), ts)
		if Sign("admin", string(body), ts) != r.URL.Query().Get("sign") {
			json.NewEncoder(w).Encode(Result{Code: "2", Data: "sign"})
			return
		}
		var m pubsub.Message
		require.NoError(t, json.Unmarshal(body, &m))
		json.NewEncoder(w).Encode(Result{Code: "0", Data: pubsub.ChannelFor(m)})
	}))
	defer srv.Close()

	m := pubsub.Message{Type: pubsub.TypeNotification, Data: json.RawMessage(`{"title":"Hi","body":"b"}`), Recipient: "u1"}
	res, err := Publish(context.Background(), srv.Client(), srv.URL+"/admin/publish", "admin", m, now)
	require.NoError(t, err)
	assert.Equal(t, Result{Code: "0", Data: "user:u1"}, res)

	res, err = Publish(context.Background(), srv.Client(), srv.URL+"/admin/publish", "wrong", m, now)
	require.NoError(t, err)
	assert.Equal(t, "2", res.Code)
}

func TestPublishBadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := Publish(context.Background(), srv.Client(), srv.URL, "s", pubsub.Message{Type: pubsub.TypeSystemAlert}, time.Now())
	assert.Error(t, err)
}

func TestRootCommandTree(t *testing.T) {
	root := buildRootCmd()
	for _, name := range []string{"listen", "call", "publish"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	call, _, _ := root.Find([]string{"call"})
	assert.Error(t, call.Args(call, nil))
}

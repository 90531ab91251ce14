package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzlov/carewire/internal/pubsub"
	"github.com/nzlov/carewire/internal/transport"
)

func postAdmin(t *testing.T, url, secret, body string, ts time.Time) (int, adminResult) {
	t.Helper()
	tss := strconv.FormatInt(ts.Unix(), 10)
	req, err := http.NewRequest(http.MethodPost,
		url+"/admin/publish?ts="+tss+"&sign="+Sign(secret, body, tss), strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var res adminResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return resp.StatusCode, res
}

func TestAdminPublish(t *testing.T) {
	n, srv := newTestNode(t, Config{AdminSecret: "admin"})
	admin := dial(t, srv)
	require.NoError(t, admin.WriteMessage(websocket.TextMessage, joinFrame(t, "a1", transport.RoleAdmin)))
	waitChannel(t, n, pubsub.ChannelAdmins, 1)

	body := `{"type":"admin_alert","data":{"severity":"high","message":"crisis flag raised"},"sender":"someone"}`
	code, res := postAdmin(t, srv.URL, "admin", body, time.Now())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, adminResult{Code: C_OK, Data: pubsub.ChannelAdmins}, res)

	var got pubsub.Message
	readJSON(t, admin, &got)
	assert.Equal(t, pubsub.TypeAdminAlert, got.Type)
	assert.Equal(t, systemSender, got.Sender)
	assert.NotZero(t, got.Timestamp)
	p, err := got.Payload()
	require.NoError(t, err)
	assert.Equal(t, "crisis flag raised", p.(*pubsub.AdminAlert).Message)
}

func TestAdminPublishRejects(t *testing.T) {
	_, srv := newTestNode(t, Config{AdminSecret: "admin"})
	body := `{"type":"system_alert","data":{"level":"info","message":"maintenance"}}`

	code, res := postAdmin(t, srv.URL, "wrong", body, time.Now())
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, C_AUTH, res.Code)

	code, res = postAdmin(t, srv.URL, "admin", body, time.Now().Add(-time.Hour))
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, adminResult{Code: C_AUTH, Data: "ts"}, res)

	_, res = postAdmin(t, srv.URL, "admin", `not json`, time.Now())
	assert.Equal(t, adminResult{Code: C_FAIL, Data: "data format"}, res)

	_, res = postAdmin(t, srv.URL, "admin", `{"type":"mystery","data":{}}`, time.Now())
	assert.Equal(t, C_FAIL, res.Code)

	resp, err := http.Post(srv.URL+"/admin/publish", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminPublishDisabledWithoutSecret(t *testing.T) {
	_, srv := newTestNode(t, Config{})
	code, res := postAdmin(t, srv.URL, "", `{"type":"system_alert","data":{}}`, time.Now())
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, C_AUTH, res.Code)
}

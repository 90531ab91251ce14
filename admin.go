package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nzlov/carewire/internal/pubsub"
)

func adminresp(log *zap.SugaredLogger, w http.ResponseWriter, code, content string) {
	w.Header().Set("Content-Type", "application/json")
	if code == C_AUTH {
		w.WriteHeader(http.StatusUnauthorized)
	}
	json.NewEncoder(w).Encode(adminResult{Code: code, Data: content})
	log.Infow("admin response", "code", code, "data", content)
}

// adminPublish injects a signed pub/sub message as if sent by the system.
// The query carries ts (unix seconds) and sign, the HMAC of body+ts.
func (n *Node) adminPublish(w http.ResponseWriter, r *http.Request) {
	log := n.log.With("method", "adminPublish")
	defer r.Body.Close()
	if n.cfg.AdminSecret == "" {
		adminresp(log, w, C_AUTH, "admin publish disabled")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, n.cfg.Client.ReadMessageSizeLimit))
	if err != nil {
		adminresp(log, w, C_FAIL, "read body")
		return
	}

	s := r.URL.Query().Get("sign")
	if s == "" {
		adminresp(log, w, C_AUTH, "sign")
		return
	}
	ts := r.URL.Query().Get("ts")
	if ts == "" {
		adminresp(log, w, C_AUTH, "ts")
		return
	}
	if err := CheckSign(n.cfg.AdminSecret, string(body), ts, s, time.Now(), n.cfg.AdminSkew); err != nil {
		if errors.Is(err, ErrStaleSign) {
			adminresp(log, w, C_AUTH, "ts")
			return
		}
		adminresp(log, w, C_AUTH, "sign")
		return
	}

	m := pubsub.Message{}
	if err := json.Unmarshal(body, &m); err != nil {
		adminresp(log, w, C_FAIL, "data format")
		return
	}
	m.Sender = systemSender
	m.Timestamp = time.Now().UnixMilli()
	ch, err := n.route(m, originAdmin)
	if err != nil {
		adminresp(log, w, C_FAIL, err.Error())
		return
	}
	adminresp(log, w, C_OK, ch)
}

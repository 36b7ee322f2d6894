package testutil

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// reply marshals body while b.mu is held, releases the lock and writes.
func (b *Backend) reply(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	b.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, data)
}

func (b *Backend) listEndpoints(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	list := b.endpoints
	if list == nil {
		list = []map[string]interface{}{}
	}
	b.reply(w, http.StatusOK, map[string]interface{}{
		"endpoints": list,
		"total":     len(list),
	})
}

func (b *Backend) checkOne(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	b.mu.Lock()
	ep := find(b.endpoints, "name", name)
	if ep == nil {
		b.reply(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "endpoint not found: " + name})
		return
	}
	ep["healthy"] = b.probeHealthy
	ep["never_checked"] = false
	ep["last_check"] = time.Now().Format("2006-01-02 15:04:05")
	ep["response_time"] = "42ms"

	b.reply(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"message":       "health check completed",
		"healthy":       ep["healthy"],
		"response_time": ep["response_time"],
		"last_check":    ep["last_check"],
		"never_checked": false,
	})
}

func (b *Backend) checkAll(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	healthy, unhealthy := 0, 0
	for _, ep := range b.endpoints {
		ep["healthy"] = b.probeHealthy
		ep["never_checked"] = false
		if b.probeHealthy {
			healthy++
		} else {
			unhealthy++
		}
	}
	b.reply(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"message":         "batch health check completed",
		"total":           healthy + unhealthy,
		"healthy_count":   healthy,
		"unhealthy_count": unhealthy,
		"timestamp":       time.Now().Format("2006-01-02 15:04:05"),
	})
}

func (b *Backend) updatePriority(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req struct {
		Priority int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Priority < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "Invalid request: priority must be >= 1"})
		return
	}

	b.mu.Lock()
	ep := find(b.endpoints, "name", name)
	if ep == nil {
		b.reply(w, http.StatusBadRequest, map[string]interface{}{"error": "endpoint not found: " + name})
		return
	}
	ep["priority"] = req.Priority
	b.reply(w, http.StatusOK, map[string]interface{}{"success": true, "message": "priority updated"})
}

func (b *Backend) keysOverview(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	list := b.credentials
	if list == nil {
		list = []map[string]interface{}{}
	}
	b.reply(w, http.StatusOK, map[string]interface{}{
		"endpoints": list,
		"total":     len(list),
		"timestamp": time.Now().Format("2006-01-02 15:04:05"),
	})
}

func (b *Backend) endpointKeys(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	b.mu.Lock()
	set := find(b.credentials, "endpoint", name)
	if set == nil {
		b.reply(w, http.StatusNotFound, map[string]interface{}{"error": "endpoint not found"})
		return
	}
	b.reply(w, http.StatusOK, set)
}

func (b *Backend) switchKey(field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		var req struct {
			Index *int `json:"index"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request"})
			return
		}

		b.mu.Lock()
		set := find(b.credentials, "endpoint", name)
		if set == nil {
			b.reply(w, http.StatusBadRequest, map[string]interface{}{"error": "endpoint not found"})
			return
		}
		entries, _ := set[field].([]interface{})
		if *req.Index < 0 || *req.Index >= len(entries) {
			b.reply(w, http.StatusBadRequest, map[string]interface{}{"error": "index out of range"})
			return
		}
		for i, e := range entries {
			if entry, ok := e.(map[string]interface{}); ok {
				entry["is_active"] = i == *req.Index
			}
		}
		if field == "tokens" {
			if ep := find(b.endpoints, "name", name); ep != nil {
				ep["active_token_index"] = *req.Index
			}
		}
		b.reply(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"message":   "switched",
			"endpoint":  name,
			"new_index": *req.Index,
			"timestamp": time.Now().Format("2006-01-02 15:04:05"),
		})
	}
}

func (b *Backend) listGroups(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	list := b.groups
	if list == nil {
		list = []map[string]interface{}{}
	}
	b.reply(w, http.StatusOK, map[string]interface{}{
		"groups":                   list,
		"total_suspended_requests": 0,
	})
}

func (b *Backend) activateGroup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	b.mu.Lock()
	if find(b.groups, "name", name) == nil {
		b.reply(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "group not found: " + name})
		return
	}
	for _, g := range b.groups {
		g["is_active"] = g["name"] == name
	}
	for _, ep := range b.endpoints {
		ep["group_is_active"] = ep["group"] == name
	}
	b.reply(w, http.StatusOK, map[string]interface{}{"success": true, "message": "group activated"})
}

func (b *Backend) pauseGroup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	b.mu.Lock()
	g := find(b.groups, "name", name)
	if g == nil {
		b.reply(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "group not found: " + name})
		return
	}
	g["is_active"] = false
	for _, ep := range b.endpoints {
		if ep["group"] == name {
			ep["group_is_active"] = false
		}
	}
	b.reply(w, http.StatusOK, map[string]interface{}{"success": true, "message": "group paused"})
}

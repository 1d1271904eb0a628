package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"workboard/internal/board"
	"workboard/internal/engine"
	"workboard/internal/week"
)

// registerBoardStream serves the live board over server-sent events.
// Every event carries the full organized board for the viewed week, so
// a dropped intermediate snapshot costs nothing: the next one replaces
// the whole view.
func registerBoardStream(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "board", "subscribe"), func(w http.ResponseWriter, req *http.Request) {
		ownerID, authErr := ownerFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported", nil))
			return
		}

		q := req.URL.Query()
		weekParam, _ := strconv.Atoi(q.Get("week"))
		yearParam, _ := strconv.Atoi(q.Get("year"))
		view, err := resolveBoardView(e, q.Get("date"), weekParam, yearParam, q.Get("columns"))
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		filters := board.Filters{Search: q.Get("q"), Status: q.Get("status")}

		snapshots, cancel, err := e.Store.Subscribe(req.Context(), ownerID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-req.Context().Done():
				return
			case snapshot, open := <-snapshots:
				if !open {
					return
				}
				b := board.Organize(snapshot, view.Dates, filters)
				dates := make([]string, len(view.Dates))
				for i, d := range view.Dates {
					dates[i] = week.Format(d)
				}
				resp := boardResponse(view.Week, view.Year, dates, e.Today(), b)
				payload, err := json.Marshal(resp)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: board\ndata: %s\n\n", payload)
				flusher.Flush()
			}
		}
	})
}

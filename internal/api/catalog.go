package api

import (
	"net/http"

	"github.com/kalambet/tabchat/internal/retrieval"
	"github.com/kalambet/tabchat/internal/sqldb"
)

func handleListTables(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := r.URL.Query().Get("profile")
		if profile == "" {
			profile = deps.DefaultProfile
		}
		db, err := sqldb.OpenExisting(deps.DataDir, profile)
		if err != nil {
			writeError(w, err)
			return
		}
		defer db.Close()

		tables, err := db.Tables(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if tables == nil {
			tables = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"profile": profile, "tables": tables})
	}
}

func handleListCollections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cols, err := deps.Vectors.ListCollections(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if cols == nil {
			cols = []retrieval.Collection{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"collections": cols})
	}
}

package api

import (
	"net/http"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/events"
)

// gitPushWebhook is the normalized webhook body (§6):
// GitPushEventJob{owner, repo, branch?, tag?, commit, project_id}.
type gitPushWebhook struct {
	Owner     string `json:"owner"`
	Repo      string `json:"repo"`
	Branch    string `json:"branch"`
	Tag       string `json:"tag"`
	Commit    string `json:"commit"`
	ProjectID string `json:"project_id"`
}

// handleGitWebhook ingests a push event and publishes it on the bus; C9
// picks it up from there. The handler never touches the store directly —
// project existence is validated downstream, per §4.9 step 1.
func (s *Server) handleGitWebhook(w http.ResponseWriter, r *http.Request) {
	var body gitPushWebhook
	if err := decodeJSON(r, &body); err != nil {
		s.writeProviderError(w, apperr.Validationf("invalid webhook payload: %v", err))
		return
	}
	if body.ProjectID == "" || body.Commit == "" {
		s.writeProviderError(w, apperr.Validationf("project_id and commit are required"))
		return
	}

	s.bus.Publish(events.Event{
		Kind: events.KindGitPush,
		GitPush: &events.GitPushPayload{
			Owner:     body.Owner,
			Repo:      body.Repo,
			Branch:    body.Branch,
			Tag:       body.Tag,
			Commit:    body.Commit,
			ProjectID: body.ProjectID,
		},
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

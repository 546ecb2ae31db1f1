package commands

import (
	"sort"
	"strconv"
	"time"

	"github.com/coachsync/coachsync/internal/auth"
	"github.com/coachsync/coachsync/internal/output"
)

// athleteRow is one athlete as shown by list and the single-athlete commands.
type athleteRow struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

// parseAthleteID parses a positional athlete ID.
func parseAthleteID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, output.ErrUsageHint("Invalid athlete ID: "+s, "Athlete IDs are numeric; run: coachsync athletes list")
	}
	return id, nil
}

// athleteRows returns every stored athlete ordered by ID.
func athleteRows(mgr *auth.Manager) []athleteRow {
	all := mgr.Store().LoadAll()
	rows := make([]athleteRow, 0, len(all))
	for _, c := range all {
		rows = append(rows, rowFor(mgr, c))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

func rowFor(mgr *auth.Manager, c *auth.Credential) athleteRow {
	return athleteRow{
		ID:        c.PrincipalID,
		Name:      c.PrincipalName,
		Status:    mgr.PrincipalStatus(c.PrincipalID).String(),
		ExpiresAt: c.ExpiresAt,
		Scope:     c.Scope,
	}
}

// expiresIn formats the time left on a credential for summaries.
func expiresIn(c *auth.Credential) string {
	d := c.ExpiresIn(time.Now()).Round(time.Minute)
	if d <= 0 {
		return "expired"
	}
	return "expires in " + d.String()
}

func athleteNotFound(id int64) *output.Error {
	return output.ErrNotFoundHint("athlete", strconv.FormatInt(id, 10), "Run: coachsync athletes list")
}

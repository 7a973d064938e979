package sqlite

import (
	"database/sql"
	"strings"

	"github.com/thebtf/mnemo/pkg/models"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Column lists shared by every query that hydrates full records.
// Integer columns added by later migrations are COALESCEd for rows that predate them.
const (
	observationColumns = `o.id, o.sdk_session_id, o.project, o.type, o.title, o.subtitle, o.narrative, o.text,
		o.facts, o.concepts, o.files_read, o.files_modified, o.prompt_number,
		COALESCE(o.discovery_tokens, 0), COALESCE(o.read_tokens, 0), o.created_at, o.created_at_epoch`

	summaryColumns = `ss.id, ss.sdk_session_id, ss.project, ss.request, ss.investigated, ss.learned,
		ss.completed, ss.next_steps, ss.notes, ss.files_read, ss.files_edited, ss.prompt_number,
		COALESCE(ss.discovery_tokens, 0), ss.created_at, ss.created_at_epoch`

	promptColumns = `p.id, p.claude_session_id, p.prompt_number, p.prompt_text, p.created_at, p.created_at_epoch,
		COALESCE(s.project, ''), COALESCE(s.sdk_session_id, '')`

	promptFrom = ` FROM user_prompts p LEFT JOIN sdk_sessions s ON s.claude_session_id = p.claude_session_id`

	sessionColumns = `id, claude_session_id, sdk_session_id, project, user_prompt,
		worker_port, COALESCE(prompt_counter, 0), status, metadata, started_at, started_at_epoch,
		completed_at, completed_at_epoch`
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i > 0}
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64SliceToInterface(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func stringSliceToInterface(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func scanObservation(scanner rowScanner) (*models.Observation, error) {
	var obs models.Observation
	if err := scanner.Scan(
		&obs.ID, &obs.SDKSessionID, &obs.Project, &obs.Type,
		&obs.Title, &obs.Subtitle, &obs.Narrative, &obs.Text,
		&obs.Facts, &obs.Concepts, &obs.FilesRead, &obs.FilesModified,
		&obs.PromptNumber, &obs.DiscoveryTokens, &obs.ReadTokens,
		&obs.CreatedAt, &obs.CreatedAtEpoch,
	); err != nil {
		return nil, err
	}
	return &obs, nil
}

// scanObservationRows scans multiple observations. Caller closes rows.
func scanObservationRows(rows *sql.Rows) ([]*models.Observation, error) {
	var observations []*models.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

func scanSummary(scanner rowScanner) (*models.SessionSummary, error) {
	var summary models.SessionSummary
	if err := scanner.Scan(
		&summary.ID, &summary.SDKSessionID, &summary.Project,
		&summary.Request, &summary.Investigated, &summary.Learned, &summary.Completed,
		&summary.NextSteps, &summary.Notes, &summary.FilesRead, &summary.FilesEdited,
		&summary.PromptNumber, &summary.DiscoveryTokens,
		&summary.CreatedAt, &summary.CreatedAtEpoch,
	); err != nil {
		return nil, err
	}
	return &summary, nil
}

func scanSummaryRows(rows *sql.Rows) ([]*models.SessionSummary, error) {
	var summaries []*models.SessionSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

func scanPromptWithSession(scanner rowScanner) (*models.UserPromptWithSession, error) {
	var prompt models.UserPromptWithSession
	if err := scanner.Scan(
		&prompt.ID, &prompt.ClaudeSessionID, &prompt.PromptNumber, &prompt.PromptText,
		&prompt.CreatedAt, &prompt.CreatedAtEpoch,
		&prompt.Project, &prompt.SDKSessionID,
	); err != nil {
		return nil, err
	}
	return &prompt, nil
}

func scanPromptWithSessionRows(rows *sql.Rows) ([]*models.UserPromptWithSession, error) {
	var prompts []*models.UserPromptWithSession
	for rows.Next() {
		prompt, err := scanPromptWithSession(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, prompt)
	}
	return prompts, rows.Err()
}

func scanSession(scanner rowScanner) (*models.SDKSession, error) {
	var sess models.SDKSession
	if err := scanner.Scan(
		&sess.ID, &sess.ClaudeSessionID, &sess.SDKSessionID, &sess.Project, &sess.UserPrompt,
		&sess.WorkerPort, &sess.PromptCounter, &sess.Status, &sess.Metadata,
		&sess.StartedAt, &sess.StartedAtEpoch, &sess.CompletedAt, &sess.CompletedAtEpoch,
	); err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanSessionRows(rows *sql.Rows) ([]*models.SDKSession, error) {
	var sessions []*models.SDKSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

package api

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"teamsync/internal/auth"
	"teamsync/internal/model"
	"teamsync/internal/realtime"
)

// TopicTeam is the topic every team-scoped payload is published on, keyed by team id.
const TopicTeam = "TEAM"

// Payloads published on TopicTeam. The payload type name travels with each message.
type (
	AddReflectTemplatePromptPayload struct {
		Prompt model.ReflectPrompt `json:"prompt"`
	}
	RemoveReflectTemplatePromptPayload struct {
		Prompt model.ReflectPrompt `json:"prompt"`
	}
	UpdateTaskPayload struct {
		Task model.Task `json:"task"`
	}
	ArchiveTaskPayload struct {
		Task model.Task `json:"task"`
	}
	DisconnectSocketPayload struct {
		UserID string `json:"userId"`
	}
)

type resolverFunc func(ctx context.Context, rc realtime.RequestContext, p auth.Principal, vars map[string]any) (any, error)

func (s *Server) queries() map[string]resolverFunc {
	return map[string]resolverFunc{
		"reflectTemplatePrompts": s.reflectTemplatePrompts,
		"archivedTasksCount":     s.archivedTasksCount,
		"team":                   s.team,
	}
}

func (s *Server) mutations() map[string]resolverFunc {
	return map[string]resolverFunc{
		"addReflectTemplatePrompt":    s.addReflectTemplatePrompt,
		"removeReflectTemplatePrompt": s.removeReflectTemplatePrompt,
		"updateTask":                  s.updateTask,
		"archiveTask":                 s.archiveTask,
	}
}

// operation is the part of a GraphQL document the server routes on.
type operation struct {
	Kind  string // query, mutation or subscription
	Field string // first root selection
}

// parseOperation extracts the operation kind and root field from a document.
// Arguments are taken from variables, so inline argument lists are skipped.
func parseOperation(doc string) (operation, error) {
	doc = strings.TrimSpace(doc)
	op := operation{Kind: "query"}
	if !strings.HasPrefix(doc, "{") {
		kind := doc
		if i := strings.IndexFunc(doc, func(r rune) bool { return !unicode.IsLetter(r) }); i >= 0 {
			kind = doc[:i]
		}
		switch kind {
		case "query", "mutation", "subscription":
			op.Kind = kind
		default:
			return operation{}, fmt.Errorf("%w: unknown operation %q", errBadInput, kind)
		}
	}
	i := strings.IndexByte(doc, '{')
	if i < 0 {
		return operation{}, fmt.Errorf("%w: missing selection set", errBadInput)
	}
	rest := strings.TrimLeftFunc(doc[i+1:], unicode.IsSpace)
	end := strings.IndexFunc(rest, func(r rune) bool {
		return !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	if end < 0 {
		end = len(rest)
	}
	// alias: field
	if after := strings.TrimLeftFunc(rest[end:], unicode.IsSpace); strings.HasPrefix(after, ":") {
		rest = strings.TrimLeftFunc(after[1:], unicode.IsSpace)
		end = strings.IndexFunc(rest, func(r rune) bool {
			return !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
		})
		if end < 0 {
			end = len(rest)
		}
	}
	op.Field = rest[:end]
	if op.Field == "" {
		return operation{}, fmt.Errorf("%w: missing root field", errBadInput)
	}
	return op, nil
}

// execute runs a query or mutation inside rc's operation scope.
func (s *Server) execute(ctx context.Context, rc realtime.RequestContext, p auth.Principal, op operation, vars map[string]any) (any, error) {
	var table map[string]resolverFunc
	switch op.Kind {
	case "query":
		table = s.queries()
	case "mutation":
		table = s.mutations()
	default:
		return nil, fmt.Errorf("%w: %s over this transport", errUnsupported, op.Kind)
	}
	fn, ok := table[op.Field]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", errUnsupported, op.Kind, op.Field)
	}
	return fn(ctx, rc, p, vars)
}

// Queries

func (s *Server) reflectTemplatePrompts(ctx context.Context, rc realtime.RequestContext, p auth.Principal, vars map[string]any) (any, error) {
	templateID, err := stringVar(vars, "templateId")
	if err != nil {
		return nil, err
	}
	prompts, err := s.loadPrompts(ctx, rc, templateID)
	if err != nil {
		return nil, err
	}
	out := make([]model.ReflectPrompt, 0, len(prompts))
	for _, rp := range prompts {
		if authorizeTeam(p, rp.TeamID) == nil {
			out = append(out, rp)
		}
	}
	return out, nil
}

func (s *Server) archivedTasksCount(ctx context.Context, rc realtime.RequestContext, p auth.Principal, vars map[string]any) (any, error) {
	teamID, err := stringVar(vars, "teamId")
	if err != nil {
		return nil, err
	}
	if err := authorizeTeam(p, teamID); err != nil {
		return nil, err
	}
	return realtime.Compute(ctx, rc.Op, "archivedCount:"+teamID+":"+p.UserID, func(ctx context.Context) (int, error) {
		return s.Store.CountArchivedTasks(ctx, teamID, p.UserID)
	})
}

func (s *Server) team(ctx context.Context, rc realtime.RequestContext, p auth.Principal, vars map[string]any) (any, error) {
	teamID, err := stringVar(vars, "teamId")
	if err != nil {
		return nil, err
	}
	if err := authorizeTeam(p, teamID); err != nil {
		return nil, err
	}
	return s.loadTeam(ctx, rc, teamID)
}

// Mutations

func (s *Server) addReflectTemplatePrompt(ctx context.Context, rc realtime.RequestContext, p auth.Principal, vars map[string]any) (any, error) {
	templateID, err := stringVar(vars, "templateId")
	if err != nil {
		return nil, err
	}
	question, err := stringVar(vars, "question")
	if err != nil {
		return nil, err
	}
	if question, err = validateQuestion(question); err != nil {
		return nil, err
	}
	// the template's team comes from its existing prompts; a new template names it explicitly
	teamID := optStringVar(vars, "teamId")
	if teamID == "" {
		prompts, err := s.loadPrompts(ctx, rc, templateID)
		if err != nil {
			return nil, err
		}
		if len(prompts) == 0 {
			return nil, fmt.Errorf("%w: teamId required for a template without prompts", errBadInput)
		}
		teamID = prompts[0].TeamID
	}
	if err := authorizeTeam(p, teamID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rp, err := s.Store.AddPrompt(ctx, model.ReflectPrompt{
		TeamID: teamID, TemplateID: templateID, Question: question, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}
	payload := AddReflectTemplatePromptPayload{Prompt: rp}
	s.publishTeam(ctx, rc, teamID, "AddReflectTemplatePromptPayload", payload)
	return payload, nil
}

func (s *Server) removeReflectTemplatePrompt(ctx context.Context, rc realtime.RequestContext, p auth.Principal, vars map[string]any) (any, error) {
	promptID, err := stringVar(vars, "promptId")
	if err != nil {
		return nil, err
	}
	rp, err := realtime.Compute(ctx, rc.Op, "prompt:"+promptID, func(ctx context.Context) (model.ReflectPrompt, error) {
		return s.Store.GetPrompt(ctx, promptID)
	})
	if err != nil {
		return nil, err
	}
	if err := authorizeTeam(p, rp.TeamID); err != nil {
		return nil, err
	}
	if !rp.IsActive {
		return nil, fmt.Errorf("%w: prompt already removed", errBadInput)
	}
	n, err := s.Store.CountActivePrompts(ctx, rp.TeamID, rp.TemplateID)
	if err != nil {
		return nil, err
	}
	if n <= 1 {
		return nil, fmt.Errorf("%w: a template needs at least one prompt", errBadInput)
	}
	now := time.Now().UTC()
	if err := s.Store.DeactivatePrompt(ctx, promptID, now); err != nil {
		return nil, err
	}
	rp.IsActive, rp.UpdatedAt = false, now
	payload := RemoveReflectTemplatePromptPayload{Prompt: rp}
	s.publishTeam(ctx, rc, rp.TeamID, "RemoveReflectTemplatePromptPayload", payload)
	return payload, nil
}

func (s *Server) updateTask(ctx context.Context, rc realtime.RequestContext, p auth.Principal, vars map[string]any) (any, error) {
	task, err := s.loadWritableTask(ctx, rc, p, vars)
	if err != nil {
		return nil, err
	}
	var patch model.TaskPatch
	if v, ok := vars["content"]; ok && v != nil {
		c, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: content must be a string", errBadInput)
		}
		if err := validateContent(c); err != nil {
			return nil, err
		}
		patch.Content = &c
	}
	if raw, ok := vars["tags"]; ok && raw != nil {
		tags, err := stringSlice(raw)
		if err != nil {
			return nil, err
		}
		if patch.Tags, err = normalizeTags(tags); err != nil {
			return nil, err
		}
	}
	if patch.Content == nil && patch.Tags == nil {
		return nil, fmt.Errorf("%w: nothing to update", errBadInput)
	}
	updated, err := s.Store.UpdateTask(ctx, task.ID, patch, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	payload := UpdateTaskPayload{Task: updated}
	s.publishTeam(ctx, rc, updated.TeamID, "UpdateTaskPayload", payload)
	return payload, nil
}

func (s *Server) archiveTask(ctx context.Context, rc realtime.RequestContext, p auth.Principal, vars map[string]any) (any, error) {
	task, err := s.loadWritableTask(ctx, rc, p, vars)
	if err != nil {
		return nil, err
	}
	if !task.IsArchived() {
		tags := append(slices.Clone(task.Tags), model.TagArchived)
		if task, err = s.Store.UpdateTask(ctx, task.ID, model.TaskPatch{Tags: tags}, time.Now().UTC()); err != nil {
			return nil, err
		}
	}
	payload := ArchiveTaskPayload{Task: task}
	s.publishTeam(ctx, rc, task.TeamID, "ArchiveTaskPayload", payload)
	return payload, nil
}

// disconnectSocket is the reaper's hook: it tells the principal's teams
// that this socket went away.
func (s *Server) disconnectSocket(connID, principalID string) {
	v, ok := s.principals.LoadAndDelete(connID)
	if !ok {
		return
	}
	p := v.(auth.Principal)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, teamID := range p.Teams {
		s.Hub.Publish(ctx, TopicTeam, teamID, "DisconnectSocketPayload",
			DisconnectSocketPayload{UserID: principalID}, realtime.PublishOptions{MutatorID: connID})
	}
}

// Subscriptions

// subscriptionTarget resolves a subscription field to the topic it listens on.
func subscriptionTarget(p auth.Principal, field string, vars map[string]any) (topic, key string, filter realtime.Filter, err error) {
	teamID, err := stringVar(vars, "teamId")
	if err != nil {
		return "", "", nil, err
	}
	if err := authorizeTeam(p, teamID); err != nil {
		return "", "", nil, err
	}
	switch field {
	case "teamSubscription":
		return TopicTeam, teamID, nil, nil
	case "taskSubscription":
		return TopicTeam, teamID, taskFilter(p.UserID), nil
	default:
		return "", "", nil, fmt.Errorf("%w: subscription %s", errUnsupported, field)
	}
}

// taskFilter passes task payloads only, and private tasks only to their owner.
func taskFilter(userID string) realtime.Filter {
	return func(m map[string]any) bool {
		task, ok := m["task"].(map[string]any)
		if !ok {
			return false
		}
		tags, _ := task["tags"].([]any)
		for _, t := range tags {
			if t == model.TagPrivate {
				return task["userId"] == userID
			}
		}
		return true
	}
}

// helpers

func (s *Server) publishTeam(ctx context.Context, rc realtime.RequestContext, teamID, payloadType string, payload any) {
	res := s.Hub.Publish(ctx, TopicTeam, teamID, payloadType, payload, rc.PublishOptions())
	if res.Failed > 0 {
		s.Logger.Warn("publish had failed deliveries",
			zap.String("team", teamID), zap.String("type", payloadType), zap.Int("failed", res.Failed))
	}
}

func (s *Server) loadPrompts(ctx context.Context, rc realtime.RequestContext, templateID string) ([]model.ReflectPrompt, error) {
	return realtime.Compute(ctx, rc.Op, "prompts:"+templateID, func(ctx context.Context) ([]model.ReflectPrompt, error) {
		return s.Store.ListPrompts(ctx, templateID)
	})
}

func (s *Server) loadTeam(ctx context.Context, rc realtime.RequestContext, teamID string) (model.Team, error) {
	return realtime.Compute(ctx, rc.Op, "team:"+teamID, func(ctx context.Context) (model.Team, error) {
		return s.Store.GetTeam(ctx, teamID)
	})
}

// loadWritableTask fetches the task named by vars["taskId"] and checks p may change it.
func (s *Server) loadWritableTask(ctx context.Context, rc realtime.RequestContext, p auth.Principal, vars map[string]any) (model.Task, error) {
	taskID, err := stringVar(vars, "taskId")
	if err != nil {
		return model.Task{}, err
	}
	task, err := realtime.Compute(ctx, rc.Op, "task:"+taskID, func(ctx context.Context) (model.Task, error) {
		return s.Store.GetTask(ctx, taskID)
	})
	if err != nil {
		return model.Task{}, err
	}
	if err := authorizeTeam(p, task.TeamID); err != nil {
		return model.Task{}, err
	}
	if task.IsPrivate() && task.UserID != p.UserID {
		return model.Task{}, errForbidden
	}
	return task, nil
}

func stringVar(vars map[string]any, name string) (string, error) {
	s, ok := vars[name].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s required", errBadInput, name)
	}
	return s, nil
}

func optStringVar(vars map[string]any, name string) string {
	s, _ := vars[name].(string)
	return strings.TrimSpace(s)
}

func stringSlice(v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: tags must be strings", errBadInput)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: tags must be a list", errBadInput)
	}
}

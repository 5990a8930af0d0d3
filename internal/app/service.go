// Package app holds the service layer: statement lifecycle rules, session
// management, and the projections returned to HTTP clients.
package app

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"podium/api/internal/auth"
	"podium/api/internal/authpw"
	"podium/api/internal/config"
	"podium/api/internal/enrich"
	"podium/api/internal/policy"
	"podium/api/internal/store"
	"podium/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type CreateStatementInput struct {
	PoliticianID  string     `json:"politicianId"`
	Text          string     `json:"text"`
	StatementTime *time.Time `json:"statementTime"`
}

type UpdateStatementInput struct {
	Text          *string    `json:"text"`
	StatementTime *time.Time `json:"statementTime"`
}

type ReportStatementInput struct {
	Reason string `json:"reason"`
}

type TimelineQuery struct {
	TimeRange string
	SortBy    string
	Page      int
	Limit     int
}

const (
	minStatementLen = 10
	maxStatementLen = 5000
)

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	GetPolitician(context.Context, string) (store.Politician, error)
	ListPoliticians(context.Context) ([]store.Politician, error)
	PoliticianExists(context.Context, string) (bool, error)
	InsertPolitician(context.Context, store.Politician) error
	CountPoliticians(context.Context) (int, error)
	InsertStatement(context.Context, store.Statement) (store.Statement, error)
	GetStatement(context.Context, string) (store.Statement, error)
	UpdateStatement(context.Context, string, *string, *time.Time) (bool, error)
	SoftDeleteStatement(context.Context, string) (bool, error)
	ListActiveStatements(context.Context, store.StatementFilter) ([]store.Statement, int, error)
	CountStatements(context.Context) (int, error)
	InsertReport(context.Context, store.Report) error
	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions. Backed by Redis when configured, by
// Postgres otherwise.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	enricher enrich.Summarizer
	authpw   *authpw.Service
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, enricher enrich.Summarizer) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		enricher: enricher,
		authpw:   authpw.NewService(dataStore),
	}
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// Bootstrap seeds the politician roster on an empty database.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountPoliticians(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seeds := []store.Politician{
		{ID: "pol-stone", Name: "Alex Stone", Party: "Unity Party", Office: "Senator"},
		{ID: "pol-reyes", Name: "Dana Reyes", Party: "Progress Alliance", Office: "Governor"},
		{ID: "pol-okafor", Name: "Sam Okafor", Party: "Civic Forum", Office: "Mayor"},
	}
	for _, seed := range seeds {
		if err := s.store.InsertPolitician(ctx, seed); err != nil {
			return err
		}
	}
	return nil
}

// ---- Sessions ----

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The Redis backend stores only the user ID; reload the record so the
	// new access token carries the current display name.
	if user.DisplayName == "" {
		user, err = s.store.GetUserByID(ctx, user.ID)
		if err != nil {
			return Session{}, err
		}
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- Politicians ----

func (s *Service) ListPoliticians(ctx context.Context) (map[string]any, error) {
	items, err := s.store.ListPoliticians(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, politicianPayload(item))
	}
	return map[string]any{"politicians": payload}, nil
}

func (s *Service) GetPolitician(ctx context.Context, politicianID string) (map[string]any, error) {
	item, err := s.store.GetPolitician(ctx, politicianID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Politician not found", nil)
		}
		return nil, err
	}
	return politicianPayload(item), nil
}

// ---- Statements ----

func (s *Service) CreateStatement(ctx context.Context, session Session, input CreateStatementInput) (map[string]any, error) {
	text := strings.TrimSpace(input.Text)
	if n := utf8.RuneCountInString(text); n < minStatementLen || n > maxStatementLen {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"text must be between 10 and 5000 characters", map[string]any{"field": "text"})
	}
	if input.StatementTime == nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"statementTime is required", map[string]any{"field": "statementTime"})
	}

	now := time.Now()
	statementTime := input.StatementTime.UTC()
	if statementTime.After(now) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"statementTime cannot be in the future", map[string]any{"field": "statementTime"})
	}

	politicianID := strings.TrimSpace(input.PoliticianID)
	exists, err := s.store.PoliticianExists(ctx, politicianID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Politician not found", nil)
	}

	text = s.enrichText(ctx, text)

	item, err := s.store.InsertStatement(ctx, store.Statement{
		ID:            util.NewID("st"),
		PoliticianID:  politicianID,
		AuthorID:      session.UserID,
		Text:          text,
		StatementTime: statementTime,
	})
	if err != nil {
		return nil, err
	}
	item.AuthorName = session.UserName

	return s.statementPayload(item, session.UserID, time.Now()), nil
}

// enrichText asks the summarizer for an AI summary and appends it when one
// comes back. Any enrichment failure leaves the original text untouched; the
// summary is also dropped when appending it would push the statement past
// the length limit.
func (s *Service) enrichText(ctx context.Context, text string) string {
	if s.enricher == nil {
		return text
	}
	summary, ok := s.enricher.Summarize(ctx, text)
	if !ok {
		return text
	}
	combined := enrich.AppendSummary(text, summary)
	if utf8.RuneCountInString(combined) > maxStatementLen {
		log.Printf("enrich: summary dropped, combined text exceeds %d characters", maxStatementLen)
		return text
	}
	return combined
}

func (s *Service) GetStatementDetail(ctx context.Context, session Session, statementID string) (map[string]any, error) {
	item, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Statement not found", nil)
		}
		return nil, err
	}
	if item.DeletedAt != nil {
		return deletedStatementPayload(item), nil
	}
	return s.statementPayload(item, session.UserID, time.Now()), nil
}

func (s *Service) EditStatement(ctx context.Context, session Session, statementID string, input UpdateStatementInput) (map[string]any, error) {
	item, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Statement not found", nil)
		}
		return nil, err
	}

	now := time.Now()
	if err := s.authorizeMutation(item, session, now); err != nil {
		return nil, err
	}

	var textPtr *string
	if input.Text != nil {
		text := strings.TrimSpace(*input.Text)
		if n := utf8.RuneCountInString(text); n < minStatementLen || n > maxStatementLen {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"text must be between 10 and 5000 characters", map[string]any{"field": "text"})
		}
		textPtr = &text
	}
	var timePtr *time.Time
	if input.StatementTime != nil {
		statementTime := input.StatementTime.UTC()
		if statementTime.After(item.CreatedAt) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"statementTime cannot be after the statement was recorded", map[string]any{"field": "statementTime"})
		}
		timePtr = &statementTime
	}
	if textPtr == nil && timePtr == nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"nothing to update", nil)
	}

	updated, err := s.store.UpdateStatement(ctx, statementID, textPtr, timePtr)
	if err != nil {
		return nil, err
	}
	if !updated {
		// The row vanished between the read and the update; a concurrent
		// delete is the only way that happens.
		return nil, domainError(http.StatusForbidden, "STATEMENT_DELETED", "Statement has been deleted", nil)
	}

	fresh, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	return s.statementPayload(fresh, session.UserID, time.Now()), nil
}

func (s *Service) DeleteStatement(ctx context.Context, session Session, statementID string) (map[string]any, error) {
	item, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Statement not found", nil)
		}
		return nil, err
	}

	now := time.Now()
	if err := s.authorizeMutation(item, session, now); err != nil {
		return nil, err
	}

	deleted, err := s.store.SoftDeleteStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, domainError(http.StatusForbidden, "STATEMENT_DELETED", "Statement has been deleted", nil)
	}
	return map[string]any{"ok": true}, nil
}

// authorizeMutation applies the shared precondition for edit and delete:
// the statement is active, the caller is its author, and the grace window
// has not closed.
func (s *Service) authorizeMutation(item store.Statement, session Session, now time.Time) error {
	if item.DeletedAt != nil {
		return domainError(http.StatusForbidden, "STATEMENT_DELETED", "Statement has been deleted", nil)
	}
	if session.UserID == "" || session.UserID != item.AuthorID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can modify a statement", nil)
	}
	if !policy.WithinEditWindow(item.CreatedAt, now, s.cfg.EditWindow) {
		return domainError(http.StatusForbidden, "EDIT_WINDOW_CLOSED", "The edit window for this statement has closed", nil)
	}
	return nil
}

func (s *Service) ReportStatement(ctx context.Context, session Session, statementID string, input ReportStatementInput) (map[string]any, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"reason is required", map[string]any{"field": "reason"})
	}

	item, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Statement not found", nil)
		}
		return nil, err
	}
	if item.DeletedAt != nil {
		return nil, domainError(http.StatusForbidden, "STATEMENT_DELETED", "Statement has been deleted", nil)
	}

	if err := s.store.InsertReport(ctx, store.Report{
		ID:          util.NewID("rep"),
		StatementID: item.ID,
		ReporterID:  session.UserID,
		Reason:      reason,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// ---- Feed and timeline ----

// Feed returns the newest active statements across all politicians.
func (s *Service) Feed(ctx context.Context, session Session, query TimelineQuery) (map[string]any, error) {
	return s.listStatements(ctx, session, "", query)
}

// Timeline returns one politician's active statements.
func (s *Service) Timeline(ctx context.Context, session Session, politicianID string, query TimelineQuery) (map[string]any, error) {
	exists, err := s.store.PoliticianExists(ctx, politicianID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Politician not found", nil)
	}
	return s.listStatements(ctx, session, politicianID, query)
}

func (s *Service) listStatements(ctx context.Context, session Session, politicianID string, query TimelineQuery) (map[string]any, error) {
	timeRange, err := policy.ParseTimeRange(query.TimeRange)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"time_range must be one of 7d, 30d, 365d, all", map[string]any{"field": "time_range"})
	}
	sortField, err := policy.ParseSortField(query.SortBy)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"sort_by must be one of created_at, statement_time", map[string]any{"field": "sort_by"})
	}

	page := query.Page
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"page must be a positive integer", map[string]any{"field": "page"})
	}
	limit := query.Limit
	if limit == 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit < 1 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"limit must be a positive integer", map[string]any{"field": "limit"})
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	// One clock reading drives the range cutoff and every permission flag
	// in the page.
	now := time.Now()

	filter := store.StatementFilter{
		PoliticianID: politicianID,
		Field:        string(sortField),
		Limit:        limit,
		Offset:       (page - 1) * limit,
	}
	if cutoff, ok := timeRange.Cutoff(now); ok {
		filter.Cutoff = &cutoff
	}

	items, total, err := s.store.ListActiveStatements(ctx, filter)
	if err != nil {
		return nil, err
	}

	data := make([]map[string]any, 0, len(items))
	for _, item := range items {
		data = append(data, s.statementPayload(item, session.UserID, now))
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return map[string]any{
		"data": data,
		"pagination": map[string]any{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": totalPages,
		},
	}, nil
}

// ---- Projections ----

func (s *Service) statementPayload(item store.Statement, viewerID string, now time.Time) map[string]any {
	flags := policy.Evaluate(item.AuthorID, item.CreatedAt, item.DeletedAt, viewerID, now, s.cfg.EditWindow)
	return map[string]any{
		"id":            item.ID,
		"politicianId":  item.PoliticianID,
		"authorId":      item.AuthorID,
		"authorName":    item.AuthorName,
		"text":          item.Text,
		"statementTime": item.StatementTime,
		"createdAt":     item.CreatedAt,
		"updatedAt":     item.UpdatedAt,
		"canEdit":       flags.CanEdit,
		"canDelete":     flags.CanDelete,
	}
}

func deletedStatementPayload(item store.Statement) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"deleted":   true,
		"deletedAt": item.DeletedAt,
	}
}

func politicianPayload(item store.Politician) map[string]any {
	return map[string]any{
		"id":     item.ID,
		"name":   item.Name,
		"party":  item.Party,
		"office": item.Office,
	}
}

// Stats reports archive-wide totals. The statement total counts every row,
// soft-deleted ones included, since deletion keeps the record.
func (s *Service) Stats(ctx context.Context) (map[string]any, error) {
	politicians, err := s.store.CountPoliticians(ctx)
	if err != nil {
		return nil, err
	}
	statements, err := s.store.CountStatements(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"politicians": politicians,
		"statements":  statements,
	}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

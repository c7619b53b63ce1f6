// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides the business logic behind the AnkiConnect
// actions renshuu-connect serves.
//
// The package contains the Bridge, which translates each AnkiConnect
// action into Renshuu API calls and local cache operations, separating
// that logic from HTTP handlers. The Bridge is responsible for:
//   - Resolving note fields to Renshuu dictionary terms
//   - Warming and consulting the local word/membership cache
//   - Scheduling terms onto Renshuu study lists
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/AleutianAI/renshuu-connect/pkg/extensions"
	"github.com/AleutianAI/renshuu-connect/pkg/validation"
	"github.com/AleutianAI/renshuu-connect/services/connect/datatypes"
	"github.com/AleutianAI/renshuu-connect/services/connect/storage"
	"github.com/AleutianAI/renshuu-connect/services/renshuu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// bridgeTracer is the OpenTelemetry tracer for Bridge operations.
var bridgeTracer = otel.Tracer("aleutian.connect.services.bridge")

// duplicateNoteMessage is the exact canAddNotesWithErrorDetail message
// Anki clients (Yomitan among them) match on to flag duplicates in their
// UI. Do not reword it.
const duplicateNoteMessage = "cannot create note because it is a duplicate"

// defaultCheckConcurrency bounds parallel cache probes during
// canAddNotesWithErrorDetail. Clients send hundreds of notes per call.
const defaultCheckConcurrency = 8

// ErrNoAPIKey indicates an action needed a Renshuu API key and neither
// the request envelope nor the service configuration carried one.
var ErrNoAPIKey = errors.New("no Renshuu API key: send one in the request or set RENSHUU_API_KEY")

// =============================================================================
// Bridge
// =============================================================================

// Bridge implements the AnkiConnect actions against the Renshuu API and
// the local cache. It orchestrates the flow between:
//   - Renshuu API: dictionary search, study list contents, scheduling
//   - Cache store: words and list memberships seen so far
//   - Audit logger: optional record of state-changing operations
//
// The Renshuu API has no bulk endpoints and a tight rate limit, so the
// Bridge leans on the cache wherever a cached answer is acceptable:
// duplicate checks never call upstream, and term resolution only searches
// the dictionary on a cache miss.
//
// All methods are safe for concurrent use.
//
// Usage:
//
//	bridge := NewBridge(client, store, cfg.APIKey, &opts)
//	added, err := bridge.AddNote(ctx, req.Key, params.Note)
type Bridge struct {
	client      renshuu.Client
	store       storage.Store
	fallbackKey string
	audit       extensions.AuditLogger

	// warmGroup collapses concurrent first-contact fetches of the same
	// list into one pagination walk.
	warmGroup singleflight.Group

	checkConcurrency int
}

// NewBridge creates a Bridge with the provided dependencies.
//
// Parameters:
//   - client: Renshuu API client. Must not be nil.
//   - store: local word and membership cache. Must not be nil.
//   - fallbackKey: Renshuu API key used when a request envelope carries
//     none. Empty means every request must bring its own key.
//   - opts: optional extension hooks. Nil selects no-op defaults.
//
// Returns a pointer to an initialized Bridge ready for use.
func NewBridge(client renshuu.Client, store storage.Store, fallbackKey string, opts *extensions.ServiceOptions) *Bridge {
	var audit extensions.AuditLogger = &extensions.NopAuditLogger{}
	if opts != nil && opts.AuditLogger != nil {
		audit = opts.AuditLogger
	}

	return &Bridge{
		client:           client,
		store:            store,
		fallbackKey:      strings.TrimSpace(fallbackKey),
		audit:            audit,
		checkConcurrency: defaultCheckConcurrency,
	}
}

// =============================================================================
// AnkiConnect Actions
// =============================================================================

// DeckNames returns the user's vocab study lists formatted as Anki deck
// names.
//
// Renshuu groups lists by term type (vocab, kanji, grammar); only the
// vocab branch can hold the words Anki clients create, so only it is
// exposed. Each deck name is "<listID>:<groupTitle>:<listTitle>" — the
// leading list id is what AddNote later parses back out of the note's
// deckName.
//
// A key without any vocab lists yields an empty slice, not an error.
func (b *Bridge) DeckNames(ctx context.Context, key string) ([]string, error) {
	ctx, span := bridgeTracer.Start(ctx, "Bridge.DeckNames")
	defer span.End()

	key, err := b.effectiveKey(key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing api key")
		return nil, err
	}

	lists, err := b.client.GetLists(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lists fetch failed")
		return nil, fmt.Errorf("fetching study lists: %w", err)
	}

	decks := []string{}
	for _, group := range lists.TermtypeGroups {
		if group.Termtype != "vocab" {
			continue
		}
		for _, sub := range group.Groups {
			for _, list := range sub.Lists {
				decks = append(decks, fmt.Sprintf("%s:%s:%s", list.ListID, sub.GroupTitle, list.Title))
			}
		}
	}

	span.SetAttributes(attribute.Int("deck.count", len(decks)))
	return decks, nil
}

// AddNote schedules the note's term onto the Renshuu list named by its
// deck.
//
// The processing flow is:
//  1. Validate the note and extract the list id from its deck name
//  2. Resolve the note to a Renshuu term (cache first, then dictionary
//     search with proactive caching of every candidate)
//  3. Warm the list's membership cache on first contact
//  4. Schedule the term upstream unless the cache already records it,
//     then record the membership
//
// Returns:
//   - (true, nil): the term is on the list. Covers fresh adds, terms the
//     cache already knew about, and upstream "already present" answers —
//     Anki clients treat all three as a successful addNote.
//   - (false, nil): no Renshuu term matches the note. The handler maps
//     this to a null result, which clients render as "could not add".
//   - (false, err): validation, cache, or upstream failure.
func (b *Bridge) AddNote(ctx context.Context, key string, note datatypes.Note) (bool, error) {
	ctx, span := bridgeTracer.Start(ctx, "Bridge.AddNote")
	defer span.End()

	key, err := b.effectiveKey(key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing api key")
		return false, err
	}

	// Step 1: Validate and pull the list id out of the deck name.
	if err := note.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid note")
		return false, fmt.Errorf("invalid note: %w", err)
	}

	japanese := note.Japanese()
	if japanese == "" {
		err := fmt.Errorf("note has an empty %s field", datatypes.FieldJapanese)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid note")
		return false, err
	}

	listID, err := validation.SanitizeListID(note.ListID())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid deck name")
		return false, fmt.Errorf("deck name %q does not start with a Renshuu list id: %w", note.DeckName, err)
	}
	span.SetAttributes(attribute.String("renshuu.list_id", listID))

	// Step 2: Resolve the note to a term.
	termID, err := b.resolveTermID(ctx, key, note)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "term resolution failed")
		return false, fmt.Errorf("resolving term: %w", err)
	}
	if termID == "" {
		slog.Warn("No Renshuu term matches note", "japanese", japanese, "reading", note.Reading())
		span.SetAttributes(attribute.Bool("note.matched", false))
		return false, nil
	}
	span.SetAttributes(
		attribute.Bool("note.matched", true),
		attribute.String("renshuu.term_id", termID),
	)

	// Step 3: Warm the list cache so the membership check below means
	// something on first contact with this list.
	if err := b.warmListCache(ctx, key, listID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list warm failed")
		return false, fmt.Errorf("warming cache for list %s: %w", listID, err)
	}

	member, err := b.store.HasListMembership(ctx, listID, termID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "membership check failed")
		return false, fmt.Errorf("checking membership: %w", err)
	}
	if member {
		slog.Debug("Term already on list", "termId", termID, "listId", listID)
		span.SetAttributes(attribute.Bool("note.duplicate", true))
		return true, nil
	}

	// Step 4: Schedule upstream, then record what we did.
	if err := b.client.AddWordToList(ctx, key, termID, listID); err != nil {
		if !errors.Is(err, renshuu.ErrAlreadyScheduled) {
			b.auditNoteAdd(ctx, listID, termID, "failure")
			span.RecordError(err)
			span.SetStatus(codes.Error, "upstream add failed")
			return false, fmt.Errorf("scheduling term %s on list %s: %w", termID, listID, err)
		}
		// Renshuu already has it; record the membership and report success.
		span.SetAttributes(attribute.Bool("renshuu.already_scheduled", true))
	}

	if err := b.store.AddListMembership(ctx, listID, termID); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "membership record failed")
		return false, fmt.Errorf("recording membership: %w", err)
	}

	b.auditNoteAdd(ctx, listID, termID, "success")
	slog.Info("Added note", "termId", termID, "listId", listID)
	return true, nil
}

// CanAddNotes reports whether each note could be added. Always true for
// every note: a real answer would cost a dictionary search per note, and
// Anki clients fire this on every lookup. Use canAddNotesWithErrorDetail
// for duplicate detection against the cache.
func (b *Bridge) CanAddNotes(notes []datatypes.Note) []bool {
	results := make([]bool, len(notes))
	for i := range results {
		results[i] = true
	}
	return results
}

// CanAddNotesWithErrorDetail checks each note for duplicates against the
// local cache only. A note is a duplicate when its term is cached and
// the cache records it on the note's list; notes the cache has never
// seen come back addable. No Renshuu API calls are made.
//
// Checks run concurrently, bounded by the Bridge's check concurrency.
// The first cache failure aborts the batch.
func (b *Bridge) CanAddNotesWithErrorDetail(ctx context.Context, notes []datatypes.Note) ([]datatypes.CanAddDetail, error) {
	ctx, span := bridgeTracer.Start(ctx, "Bridge.CanAddNotesWithErrorDetail")
	defer span.End()
	span.SetAttributes(attribute.Int("note.count", len(notes)))

	details := make([]datatypes.CanAddDetail, len(notes))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.checkConcurrency)
	for i, note := range notes {
		g.Go(func() error {
			detail, err := b.checkDuplicate(gCtx, note)
			if err != nil {
				return err
			}
			details[i] = detail
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "duplicate check failed")
		return nil, fmt.Errorf("checking notes: %w", err)
	}

	return details, nil
}

// FindNotes returns the cached note ids matching an Anki search query.
//
// Only the query subset Anki clients emit for duplicate lookups is
// understood: deck:"<deck name>" clauses restrict to lists, and every
// other token matches cached written forms and readings. The cache is
// authoritative here — nothing is fetched. An empty query matches
// nothing.
func (b *Bridge) FindNotes(ctx context.Context, query string) ([]int64, error) {
	ctx, span := bridgeTracer.Start(ctx, "Bridge.FindNotes")
	defer span.End()

	listIDs, terms := parseFindQuery(query)
	span.SetAttributes(
		attribute.Int("query.deck_clauses", len(listIDs)),
		attribute.Int("query.terms", len(terms)),
	)

	ids, err := b.store.FindTermIDs(ctx, listIDs, terms)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache query failed")
		return nil, fmt.Errorf("searching cached notes: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}

	span.SetAttributes(attribute.Int("note.count", len(ids)))
	return ids, nil
}

// =============================================================================
// Cache Administration
// =============================================================================

// DropResult reports what DropListCache removed.
type DropResult struct {
	DeletedCount int64  `json:"deleted_count"`
	ListID       string `json:"list_id"`
}

// DropListCache forgets every cached membership for a list. The words
// themselves stay cached. The next AddNote touching the list re-fetches
// its contents from Renshuu.
//
// Use this when the list was edited on renshuu.org directly and the
// cache no longer reflects it.
func (b *Bridge) DropListCache(ctx context.Context, listID string) (DropResult, error) {
	ctx, span := bridgeTracer.Start(ctx, "Bridge.DropListCache")
	defer span.End()

	listID, err := validation.SanitizeListID(listID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid list id")
		return DropResult{}, err
	}
	span.SetAttributes(attribute.String("renshuu.list_id", listID))

	count, err := b.store.DeleteListMemberships(ctx, listID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache drop failed")
		return DropResult{}, fmt.Errorf("dropping cache for list %s: %w", listID, err)
	}

	b.auditCacheDrop(ctx, listID, count)
	slog.Info("Dropped list cache", "listId", listID, "deleted", count)
	span.SetAttributes(attribute.Int64("cache.deleted", count))

	return DropResult{DeletedCount: count, ListID: listID}, nil
}

// CacheSummary reports cache totals for the admin API.
func (b *Bridge) CacheSummary(ctx context.Context) (storage.Summary, error) {
	summary, err := b.store.Summary(ctx)
	if err != nil {
		return storage.Summary{}, fmt.Errorf("reading cache summary: %w", err)
	}
	return summary, nil
}

// =============================================================================
// Term Resolution
// =============================================================================

// resolveTermID maps a note to a Renshuu term id.
//
// Order of precedence:
//  1. Cache by JMdict id, when the note carries one
//  2. Cache by (written form, reading)
//  3. Dictionary search by written form; every candidate is cached
//     before matching so related notes hit the cache next time
//
// Search candidates are matched by JMdict id first, then by exact
// reading plus written-form containment. Returns "" with a nil error
// when nothing matches — an unknown word is an expected outcome, not a
// failure. Upstream rejections of the search itself (bad key, quota)
// also resolve to no-match; only transport and cache errors surface.
func (b *Bridge) resolveTermID(ctx context.Context, key string, note datatypes.Note) (string, error) {
	ctx, span := bridgeTracer.Start(ctx, "Bridge.resolveTermID")
	defer span.End()

	termID, err := b.lookupCached(ctx, note)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache lookup failed")
		return "", err
	}
	if termID != "" {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return termID, nil
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	japanese := note.Japanese()
	reading := note.Reading()

	resp, err := b.client.SearchWord(ctx, key, japanese)
	if err != nil {
		var apiErr *renshuu.APIError
		if errors.As(err, &apiErr) {
			slog.Warn("Dictionary search rejected",
				"japanese", japanese,
				"status", apiErr.StatusCode,
				"error", apiErr.Message,
			)
			span.SetAttributes(attribute.Bool("search.rejected", true))
			return "", nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "dictionary search failed")
		return "", err
	}
	span.SetAttributes(attribute.Int("renshuu.candidates", len(resp.Words)))
	if len(resp.Words) == 0 {
		return "", nil
	}

	for _, term := range resp.Words {
		if err := b.cacheTerm(ctx, term); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "candidate caching failed")
			return "", err
		}
	}

	if jmdictID := note.JmdictID(); jmdictID != "" {
		for _, term := range resp.Words {
			if term.EdictEnt.String() == jmdictID {
				return term.ID.String(), nil
			}
		}
	}

	for _, term := range resp.Words {
		if term.Reading() != reading {
			continue
		}
		if slices.Contains(term.JapaneseForms(), japanese) {
			return term.ID.String(), nil
		}
	}

	return "", nil
}

// lookupCached probes the cache for a note's term without touching the
// API. Returns "" when the cache has no answer.
func (b *Bridge) lookupCached(ctx context.Context, note datatypes.Note) (string, error) {
	if jmdictID := note.JmdictID(); jmdictID != "" {
		word, err := b.store.GetWordByJmdictID(ctx, jmdictID)
		switch {
		case err == nil:
			return word.RenshuuID, nil
		case !errors.Is(err, storage.ErrNotFound):
			return "", err
		}
	}

	japanese := note.Japanese()
	if japanese == "" {
		// A blank note cannot match a cached form.
		return "", nil
	}

	word, err := b.store.GetWordByForm(ctx, japanese, note.Reading())
	switch {
	case err == nil:
		return word.RenshuuID, nil
	case errors.Is(err, storage.ErrNotFound):
		return "", nil
	default:
		return "", err
	}
}

// cacheTerm upserts one dictionary term into the cache. Terms without an
// id are skipped. The cached written form is the kanji spelling, which
// is empty for kana-only words — form lookups for those always fall
// through to the dictionary, matching how Renshuu keys its entries.
func (b *Bridge) cacheTerm(ctx context.Context, term renshuu.Term) error {
	renshuuID := term.ID.String()
	if renshuuID == "" {
		return nil
	}
	return b.store.UpsertWord(ctx, storage.Word{
		RenshuuID: renshuuID,
		Japanese:  term.KanjiFull,
		Reading:   term.Reading(),
		JmdictID:  term.EdictEnt.String(),
	})
}

// checkDuplicate is the cache-only probe behind canAddNotesWithErrorDetail.
func (b *Bridge) checkDuplicate(ctx context.Context, note datatypes.Note) (datatypes.CanAddDetail, error) {
	termID, err := b.lookupCached(ctx, note)
	if err != nil {
		return datatypes.CanAddDetail{}, err
	}
	if termID == "" {
		return datatypes.CanAddDetail{CanAdd: true}, nil
	}

	listID, err := validation.SanitizeListID(note.ListID())
	if err != nil {
		// A deck name without a list id cannot have cached memberships.
		return datatypes.CanAddDetail{CanAdd: true}, nil
	}

	member, err := b.store.HasListMembership(ctx, listID, termID)
	if err != nil {
		return datatypes.CanAddDetail{}, err
	}
	if member {
		return datatypes.CanAddDetail{CanAdd: false, Error: duplicateNoteMessage}, nil
	}
	return datatypes.CanAddDetail{CanAdd: true}, nil
}

// =============================================================================
// List Cache Warming
// =============================================================================

// warmListCache ensures a list's memberships are cached, fetching its
// full contents from Renshuu on first contact. Concurrent warms of the
// same list collapse into one fetch.
func (b *Bridge) warmListCache(ctx context.Context, key, listID string) error {
	count, err := b.store.CountListMemberships(ctx, listID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	_, err, _ = b.warmGroup.Do(listID, func() (any, error) {
		// Double-check inside the flight; a winner may have finished
		// between the count above and joining the group.
		count, err := b.store.CountListMemberships(ctx, listID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, nil
		}
		return nil, b.fetchAndCacheList(ctx, key, listID)
	})
	return err
}

// fetchAndCacheList walks every page of a list and caches its vocab
// terms and their memberships. Non-vocab entries (kanji, grammar,
// sentences) are skipped.
//
// An upstream rejection mid-walk stops pagination and keeps the partial
// cache — stale speed beats no speed, and the next cache drop repairs
// it. Transport and cache failures propagate.
func (b *Bridge) fetchAndCacheList(ctx context.Context, key, listID string) error {
	ctx, span := bridgeTracer.Start(ctx, "Bridge.fetchAndCacheList")
	defer span.End()
	span.SetAttributes(attribute.String("renshuu.list_id", listID))

	slog.Info("Fetching and caching list contents", "listId", listID)

	page := 1
	totalPages := 1
	numTerms := 0
	cached := 0
	for {
		resp, err := b.client.GetListContents(ctx, key, listID, page)
		if err != nil {
			var apiErr *renshuu.APIError
			if errors.As(err, &apiErr) {
				slog.Error("Error fetching list page",
					"listId", listID,
					"page", page,
					"error", apiErr.Message,
				)
				span.RecordError(err)
				span.SetAttributes(attribute.Bool("cache.partial", true))
				break
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "list page fetch failed")
			return err
		}

		if page == 1 {
			numTerms = resp.NumTerms
			totalPages = resp.Contents.TotalPg
			if totalPages < 1 {
				totalPages = 1
			}
		}

		for _, entry := range resp.Contents.Terms {
			if !entry.IsVocab() {
				continue
			}
			term := entry.AsTerm()
			if term.ID.String() == "" {
				continue
			}
			if err := b.cacheTerm(ctx, term); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "term caching failed")
				return err
			}
			if err := b.store.AddListMembership(ctx, listID, term.ID.String()); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
				span.RecordError(err)
				span.SetStatus(codes.Error, "membership caching failed")
				return err
			}
			cached++
		}

		if page >= totalPages {
			break
		}
		page++
	}

	span.SetAttributes(
		attribute.Int("renshuu.pages", totalPages),
		attribute.Int("renshuu.terms", numTerms),
		attribute.Int("cache.memberships", cached),
	)
	slog.Info("Finished caching list contents",
		"listId", listID,
		"pages", totalPages,
		"terms", numTerms,
		"cachedMemberships", cached,
	)
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// effectiveKey picks the Renshuu API key for a request: the envelope's
// key wins, then the configured fallback. Keys are secrets — they never
// appear in logs, spans, or errors.
func (b *Bridge) effectiveKey(requestKey string) (string, error) {
	if k := strings.TrimSpace(requestKey); k != "" {
		return k, nil
	}
	if b.fallbackKey != "" {
		return b.fallbackKey, nil
	}
	return "", ErrNoAPIKey
}

func (b *Bridge) auditNoteAdd(ctx context.Context, listID, termID, outcome string) {
	event := extensions.AuditEvent{
		EventType:    "note.add",
		Timestamp:    time.Now().UTC(),
		Action:       "create",
		ResourceType: "term",
		ResourceID:   termID,
		Outcome:      outcome,
		Metadata:     map[string]any{"list_id": listID},
	}
	if err := b.audit.Log(ctx, event); err != nil {
		slog.Warn("Audit log failed", "eventType", event.EventType, "error", err)
	}
}

func (b *Bridge) auditCacheDrop(ctx context.Context, listID string, deleted int64) {
	event := extensions.AuditEvent{
		EventType:    "cache.drop",
		Timestamp:    time.Now().UTC(),
		Action:       "delete",
		ResourceType: "list",
		ResourceID:   listID,
		Outcome:      "success",
		Metadata:     map[string]any{"deleted_count": deleted},
	}
	if err := b.audit.Log(ctx, event); err != nil {
		slog.Warn("Audit log failed", "eventType", event.EventType, "error", err)
	}
}

// parseFindQuery splits an Anki search query into deck filters and term
// tokens. deck:"<name>" clauses are reduced to the leading list id of
// the deck name; every other token is a term to match against cached
// written forms and readings. Unrecognized deck ids are dropped rather
// than failing the whole query.
func parseFindQuery(query string) (listIDs, terms []string) {
	for _, token := range splitQueryTokens(query) {
		if value, ok := strings.CutPrefix(token, "deck:"); ok {
			idPart, _, _ := strings.Cut(value, ":")
			listID, err := validation.SanitizeListID(idPart)
			if err != nil {
				continue
			}
			listIDs = append(listIDs, listID)
			continue
		}
		terms = append(terms, token)
	}
	return listIDs, terms
}

// splitQueryTokens splits on whitespace outside double quotes. Quote
// characters are dropped, so deck:"12094:main:N3" tokenizes to
// deck:12094:main:N3 with embedded spaces preserved.
func splitQueryTokens(query string) []string {
	var tokens []string
	var current strings.Builder
	inQuote := false
	for _, r := range query {
		switch {
		case r == '"':
			inQuote = !inQuote
		case unicode.IsSpace(r) && !inQuote:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

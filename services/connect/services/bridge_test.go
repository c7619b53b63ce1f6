// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/AleutianAI/renshuu-connect/pkg/extensions"
	"github.com/AleutianAI/renshuu-connect/services/connect/datatypes"
	"github.com/AleutianAI/renshuu-connect/services/connect/storage"
	"github.com/AleutianAI/renshuu-connect/services/connect/storage/sqlite"
	"github.com/AleutianAI/renshuu-connect/services/renshuu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Renshuu Client
// =============================================================================

// MockRenshuuClient implements renshuu.Client for testing purposes.
// Responses are configurable per method and every call is recorded.
type MockRenshuuClient struct {
	mu sync.Mutex

	// ListsResponse and ListsErr are returned by GetLists.
	ListsResponse renshuu.ListsResponse
	ListsErr      error
	ListsCalls    int

	// SearchResponse and SearchErr are returned by SearchWord.
	SearchResponse  renshuu.SearchResponse
	SearchErr       error
	SearchCalls     int
	LastSearchValue string

	// AddErr is returned by AddWordToList; AddCalls records each call.
	AddErr   error
	AddCalls []MockAddCall

	// ContentsPages maps page number to the GetListContents response.
	// ContentsErrOnPage overrides individual pages with an error.
	ContentsPages     map[int]renshuu.ListContentsResponse
	ContentsErrOnPage map[int]error
	ContentsCalls     int

	// LastKey records the API key passed to the most recent call.
	LastKey string
}

// MockAddCall records one AddWordToList invocation.
type MockAddCall struct {
	TermID string
	ListID string
}

var _ renshuu.Client = (*MockRenshuuClient)(nil)

func (m *MockRenshuuClient) GetLists(ctx context.Context, key string) (renshuu.ListsResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListsCalls++
	m.LastKey = key
	return m.ListsResponse, m.ListsErr
}

func (m *MockRenshuuClient) SearchWord(ctx context.Context, key, value string) (renshuu.SearchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls++
	m.LastKey = key
	m.LastSearchValue = value
	return m.SearchResponse, m.SearchErr
}

func (m *MockRenshuuClient) AddWordToList(ctx context.Context, key string, termID, listID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastKey = key
	m.AddCalls = append(m.AddCalls, MockAddCall{TermID: termID, ListID: listID})
	return m.AddErr
}

func (m *MockRenshuuClient) GetListContents(ctx context.Context, key, listID string, page int) (renshuu.ListContentsResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContentsCalls++
	m.LastKey = key
	if err := m.ContentsErrOnPage[page]; err != nil {
		return renshuu.ListContentsResponse{}, err
	}
	return m.ContentsPages[page], nil
}

// =============================================================================
// Test Helpers
// =============================================================================

func openBridgeStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "bridge_test.db"))
	require.NoError(t, err, "temp store should open")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestBridge(t *testing.T, mock *MockRenshuuClient) (*Bridge, *sqlite.Store) {
	t.Helper()
	store := openBridgeStore(t)
	return NewBridge(mock, store, "test-key", nil), store
}

// testNote builds a note the way Yomitan does: the Japanese field holds
// "written form/reading" and the deck name leads with the list id.
func testNote(japanese, deck string) datatypes.Note {
	return datatypes.Note{
		DeckName:  deck,
		ModelName: "Default",
		Fields: map[string]string{
			datatypes.FieldJapanese: japanese,
			datatypes.FieldEnglish:  "to study",
		},
	}
}

func vocabTerm(id, kanji, kana, edict string) renshuu.Term {
	return renshuu.Term{
		ID:           renshuu.ID(id),
		KanjiFull:    kanji,
		HiraganaFull: kana,
		EdictEnt:     renshuu.ID(edict),
	}
}

func vocabContentTerm(id, kanji, kana string) renshuu.ContentTerm {
	termID := renshuu.ID(id)
	return renshuu.ContentTerm{
		ID:           &termID,
		KanjiFull:    &kanji,
		HiraganaFull: &kana,
	}
}

func contentsPage(totalPg, numTerms int, terms ...renshuu.ContentTerm) renshuu.ListContentsResponse {
	return renshuu.ListContentsResponse{
		Contents: renshuu.ListContents{Terms: terms, TotalPg: totalPg},
		NumTerms: numTerms,
	}
}

func seedCachedWord(t *testing.T, store storage.Store, word storage.Word) {
	t.Helper()
	require.NoError(t, store.UpsertWord(context.Background(), word), "seed word %s", word.RenshuuID)
}

func seedMembership(t *testing.T, store storage.Store, listID, renshuuID string) {
	t.Helper()
	require.NoError(t, store.AddListMembership(context.Background(), listID, renshuuID),
		"seed membership %s/%s", listID, renshuuID)
}

// =============================================================================
// NewBridge Tests
// =============================================================================

// TestNewBridge_NilOptions verifies that a nil options pointer selects
// no-op extension defaults instead of panicking later.
func TestNewBridge_NilOptions(t *testing.T) {
	bridge := NewBridge(&MockRenshuuClient{}, nil, "  key  ", nil)

	require.NotNil(t, bridge, "bridge should not be nil")
	assert.NotNil(t, bridge.audit, "audit logger should default to no-op")
	assert.Equal(t, "key", bridge.fallbackKey, "fallback key should be trimmed")
	assert.Equal(t, defaultCheckConcurrency, bridge.checkConcurrency)
}

// TestBridge_EffectiveKey_Precedence verifies the request key wins over
// the configured fallback, and that no key at all is an error.
func TestBridge_EffectiveKey_Precedence(t *testing.T) {
	bridge := NewBridge(&MockRenshuuClient{}, nil, "fallback", nil)

	key, err := bridge.effectiveKey("request-key")
	require.NoError(t, err)
	assert.Equal(t, "request-key", key, "request key should win")

	key, err = bridge.effectiveKey("   ")
	require.NoError(t, err)
	assert.Equal(t, "fallback", key, "blank request key should fall back")

	bare := NewBridge(&MockRenshuuClient{}, nil, "", nil)
	_, err = bare.effectiveKey("")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

// =============================================================================
// DeckNames Tests
// =============================================================================

// TestBridge_DeckNames_FlattensVocabGroups verifies that only the vocab
// termtype branch is flattened into "listID:group:title" deck names.
func TestBridge_DeckNames_FlattensVocabGroups(t *testing.T) {
	mock := &MockRenshuuClient{
		ListsResponse: renshuu.ListsResponse{
			TermtypeGroups: []renshuu.TermtypeGroup{
				{
					Termtype: "kanji",
					Groups: []renshuu.ListGroup{
						{GroupTitle: "kanji", Lists: []renshuu.ListInfo{{ListID: "31000", Title: "Joyo"}}},
					},
				},
				{
					Termtype: "vocab",
					Groups: []renshuu.ListGroup{
						{GroupTitle: "main", Lists: []renshuu.ListInfo{
							{ListID: "12094", Title: "N3 Vocab"},
							{ListID: "20555", Title: "Genki II"},
						}},
						{GroupTitle: "extra", Lists: []renshuu.ListInfo{
							{ListID: "30777", Title: "Mining"},
						}},
					},
				},
			},
		},
	}
	bridge := NewBridge(mock, nil, "test-key", nil)

	decks, err := bridge.DeckNames(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, []string{
		"12094:main:N3 Vocab",
		"20555:main:Genki II",
		"30777:extra:Mining",
	}, decks, "kanji lists should not appear")
	assert.Equal(t, "test-key", mock.LastKey, "fallback key should reach the client")
}

// TestBridge_DeckNames_NoVocabGroup verifies a key with no vocab lists
// yields an empty slice, not nil and not an error.
func TestBridge_DeckNames_NoVocabGroup(t *testing.T) {
	mock := &MockRenshuuClient{
		ListsResponse: renshuu.ListsResponse{
			TermtypeGroups: []renshuu.TermtypeGroup{{Termtype: "grammar"}},
		},
	}
	bridge := NewBridge(mock, nil, "test-key", nil)

	decks, err := bridge.DeckNames(context.Background(), "")

	require.NoError(t, err)
	require.NotNil(t, decks, "deck list must serialize as a JSON array")
	assert.Empty(t, decks)
}

// TestBridge_DeckNames_MissingKey verifies the action fails before any
// upstream call when no key is available anywhere.
func TestBridge_DeckNames_MissingKey(t *testing.T) {
	mock := &MockRenshuuClient{}
	bridge := NewBridge(mock, nil, "", nil)

	_, err := bridge.DeckNames(context.Background(), "")

	assert.ErrorIs(t, err, ErrNoAPIKey)
	assert.Zero(t, mock.ListsCalls, "no upstream call without a key")
}

// TestBridge_DeckNames_UpstreamError verifies upstream failures surface
// as errors.
func TestBridge_DeckNames_UpstreamError(t *testing.T) {
	mock := &MockRenshuuClient{
		ListsErr: &renshuu.APIError{StatusCode: 401, Message: "API key not found"},
	}
	bridge := NewBridge(mock, nil, "bad-key", nil)

	_, err := bridge.DeckNames(context.Background(), "")

	var apiErr *renshuu.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
}

// =============================================================================
// AddNote Tests
// =============================================================================

// TestBridge_AddNote_FullFlow verifies the complete cold-cache path:
// dictionary search, list warm, upstream scheduling, and cache recording.
func TestBridge_AddNote_FullFlow(t *testing.T) {
	mock := &MockRenshuuClient{
		SearchResponse: renshuu.SearchResponse{
			Words: []renshuu.Term{vocabTerm("776", "勉強", "べんきょう", "1586730")},
		},
		ContentsPages: map[int]renshuu.ListContentsResponse{
			1: contentsPage(1, 1, vocabContentTerm("801", "食べる", "たべる")),
		},
	}
	store := openBridgeStore(t)
	audit := &extensions.MemoryAuditLogger{}
	opts := extensions.DefaultOptions().WithAudit(audit)
	bridge := NewBridge(mock, store, "test-key", &opts)

	added, err := bridge.AddNote(context.Background(), "", testNote("勉強/べんきょう", "12094:main:N3 Vocab"))

	require.NoError(t, err)
	assert.True(t, added, "note should be added")
	assert.Equal(t, "勉強", mock.LastSearchValue, "search uses the written form")
	assert.Equal(t, []MockAddCall{{TermID: "776", ListID: "12094"}}, mock.AddCalls)

	ctx := context.Background()
	member, err := store.HasListMembership(ctx, "12094", "776")
	require.NoError(t, err)
	assert.True(t, member, "new membership should be recorded")

	member, err = store.HasListMembership(ctx, "12094", "801")
	require.NoError(t, err)
	assert.True(t, member, "list warm should cache existing members")

	word, err := store.GetWordByJmdictID(ctx, "1586730")
	require.NoError(t, err)
	assert.Equal(t, "776", word.RenshuuID, "search candidates should be cached")

	events := audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "note.add", events[0].EventType)
	assert.Equal(t, "success", events[0].Outcome)
	assert.Equal(t, "776", events[0].ResourceID)
}

// TestBridge_AddNote_CachedDuplicateSkipsUpstream verifies a term the
// cache already records on the list succeeds without any API call.
func TestBridge_AddNote_CachedDuplicateSkipsUpstream(t *testing.T) {
	mock := &MockRenshuuClient{}
	bridge, store := newTestBridge(t, mock)
	seedCachedWord(t, store, storage.Word{
		RenshuuID: "776", Japanese: "勉強", Reading: "べんきょう", JmdictID: "1586730",
	})
	seedMembership(t, store, "12094", "776")

	added, err := bridge.AddNote(context.Background(), "", testNote("勉強/べんきょう", "12094:main:N3 Vocab"))

	require.NoError(t, err)
	assert.True(t, added, "duplicate adds report success")
	assert.Zero(t, mock.SearchCalls, "cached term needs no search")
	assert.Zero(t, mock.ContentsCalls, "warm list needs no fetch")
	assert.Empty(t, mock.AddCalls, "no upstream scheduling for a known member")
}

// TestBridge_AddNote_JmdictCacheHit verifies the jmdictId field takes
// precedence over form matching when probing the cache.
func TestBridge_AddNote_JmdictCacheHit(t *testing.T) {
	mock := &MockRenshuuClient{
		ContentsPages: map[int]renshuu.ListContentsResponse{1: contentsPage(1, 0)},
	}
	bridge, store := newTestBridge(t, mock)
	seedCachedWord(t, store, storage.Word{
		RenshuuID: "776", Japanese: "勉強", Reading: "べんきょう", JmdictID: "1586730",
	})

	note := testNote("勉學/べんきょう", "12094:main:N3 Vocab")
	note.Fields[datatypes.FieldJmdictID] = "1586730"

	added, err := bridge.AddNote(context.Background(), "", note)

	require.NoError(t, err)
	assert.True(t, added)
	assert.Zero(t, mock.SearchCalls, "jmdict hit should skip the dictionary")
	assert.Equal(t, []MockAddCall{{TermID: "776", ListID: "12094"}}, mock.AddCalls)
}

// TestBridge_AddNote_NoMatch verifies an unknown word reports
// not-added without an error, and still caches the search candidates.
func TestBridge_AddNote_NoMatch(t *testing.T) {
	mock := &MockRenshuuClient{
		SearchResponse: renshuu.SearchResponse{
			// Same spelling, different reading: not the note's word.
			Words: []renshuu.Term{vocabTerm("900", "行く", "ゆく", "")},
		},
	}
	bridge, store := newTestBridge(t, mock)

	added, err := bridge.AddNote(context.Background(), "", testNote("行く/いく", "12094:main:N3 Vocab"))

	require.NoError(t, err)
	assert.False(t, added, "no candidate should match")
	assert.Empty(t, mock.AddCalls)
	assert.Zero(t, mock.ContentsCalls, "unmatched notes never warm the list")

	word, err := store.GetWordByForm(context.Background(), "行く", "ゆく")
	require.NoError(t, err)
	assert.Equal(t, "900", word.RenshuuID, "candidates are cached even on no-match")
}

// TestBridge_AddNote_SearchRejectionIsNoMatch verifies an upstream
// rejection of the dictionary search resolves as no-match rather than
// failing the action.
func TestBridge_AddNote_SearchRejectionIsNoMatch(t *testing.T) {
	mock := &MockRenshuuClient{
		SearchErr: &renshuu.APIError{StatusCode: 429, Message: "quota exceeded"},
	}
	bridge, _ := newTestBridge(t, mock)

	added, err := bridge.AddNote(context.Background(), "", testNote("勉強/べんきょう", "12094:main:N3 Vocab"))

	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, mock.AddCalls)
}

// TestBridge_AddNote_SearchTransportErrorPropagates verifies transport
// failures are not swallowed as no-match.
func TestBridge_AddNote_SearchTransportErrorPropagates(t *testing.T) {
	mock := &MockRenshuuClient{
		SearchErr: errors.New("dial tcp: connection refused"),
	}
	bridge, _ := newTestBridge(t, mock)

	added, err := bridge.AddNote(context.Background(), "", testNote("勉強/べんきょう", "12094:main:N3 Vocab"))

	require.Error(t, err)
	assert.False(t, added)
	assert.Contains(t, err.Error(), "resolving term")
}

// TestBridge_AddNote_AlreadyScheduledUpstream verifies Renshuu's
// "already present" rejection is treated as success and recorded.
func TestBridge_AddNote_AlreadyScheduledUpstream(t *testing.T) {
	mock := &MockRenshuuClient{
		SearchResponse: renshuu.SearchResponse{
			Words: []renshuu.Term{vocabTerm("776", "勉強", "べんきょう", "1586730")},
		},
		ContentsPages: map[int]renshuu.ListContentsResponse{1: contentsPage(1, 0)},
		AddErr:        renshuu.ErrAlreadyScheduled,
	}
	bridge, store := newTestBridge(t, mock)

	added, err := bridge.AddNote(context.Background(), "", testNote("勉強/べんきょう", "12094:main:N3 Vocab"))

	require.NoError(t, err)
	assert.True(t, added, "already-scheduled is a success to Anki clients")

	member, err := store.HasListMembership(context.Background(), "12094", "776")
	require.NoError(t, err)
	assert.True(t, member, "membership should be recorded so the next add is cache-only")
}

// TestBridge_AddNote_UpstreamRejectionPropagates verifies other upstream
// rejections fail the action and leave an audit trail.
func TestBridge_AddNote_UpstreamRejectionPropagates(t *testing.T) {
	mock := &MockRenshuuClient{
		SearchResponse: renshuu.SearchResponse{
			Words: []renshuu.Term{vocabTerm("776", "勉強", "べんきょう", "1586730")},
		},
		ContentsPages: map[int]renshuu.ListContentsResponse{1: contentsPage(1, 0)},
		AddErr:        &renshuu.APIError{StatusCode: 403, Message: "This list is not editable."},
	}
	store := openBridgeStore(t)
	audit := &extensions.MemoryAuditLogger{}
	opts := extensions.DefaultOptions().WithAudit(audit)
	bridge := NewBridge(mock, store, "test-key", &opts)

	added, err := bridge.AddNote(context.Background(), "", testNote("勉強/べんきょう", "12094:main:N3 Vocab"))

	assert.False(t, added)
	var apiErr *renshuu.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.StatusCode)

	member, memberErr := store.HasListMembership(context.Background(), "12094", "776")
	require.NoError(t, memberErr)
	assert.False(t, member, "failed adds must not be recorded as memberships")

	events := audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "note.add", events[0].EventType)
	assert.Equal(t, "failure", events[0].Outcome)
}

// TestBridge_AddNote_InvalidDeckName verifies a deck name without a
// leading list id is rejected before any upstream or cache work.
func TestBridge_AddNote_InvalidDeckName(t *testing.T) {
	mock := &MockRenshuuClient{}
	bridge, _ := newTestBridge(t, mock)

	added, err := bridge.AddNote(context.Background(), "", testNote("勉強/べんきょう", "My Cool Deck"))

	require.Error(t, err)
	assert.False(t, added)
	assert.Contains(t, err.Error(), "list id")
	assert.Zero(t, mock.SearchCalls)
}

// TestBridge_AddNote_EmptyJapaneseField verifies a note whose Japanese
// field is blank is rejected.
func TestBridge_AddNote_EmptyJapaneseField(t *testing.T) {
	bridge, _ := newTestBridge(t, &MockRenshuuClient{})

	added, err := bridge.AddNote(context.Background(), "", testNote("", "12094:main:N3 Vocab"))

	require.Error(t, err)
	assert.False(t, added)
}

// TestBridge_AddNote_PartialWarmTolerated verifies an upstream rejection
// mid-pagination keeps the partial cache and the add still proceeds.
func TestBridge_AddNote_PartialWarmTolerated(t *testing.T) {
	mock := &MockRenshuuClient{
		SearchResponse: renshuu.SearchResponse{
			Words: []renshuu.Term{vocabTerm("776", "勉強", "べんきょう", "1586730")},
		},
		ContentsPages: map[int]renshuu.ListContentsResponse{
			1: contentsPage(3, 60, vocabContentTerm("801", "食べる", "たべる")),
		},
		ContentsErrOnPage: map[int]error{
			2: &renshuu.APIError{StatusCode: 500, Message: "server error"},
		},
	}
	bridge, store := newTestBridge(t, mock)

	added, err := bridge.AddNote(context.Background(), "", testNote("勉強/べんきょう", "12094:main:N3 Vocab"))

	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 2, mock.ContentsCalls, "pagination stops at the failing page")

	member, err := store.HasListMembership(context.Background(), "12094", "801")
	require.NoError(t, err)
	assert.True(t, member, "page 1 results stay cached")
}

// TestBridge_AddNote_WarmTransportErrorPropagates verifies transport
// failures during the warm are not tolerated.
func TestBridge_AddNote_WarmTransportErrorPropagates(t *testing.T) {
	mock := &MockRenshuuClient{
		SearchResponse: renshuu.SearchResponse{
			Words: []renshuu.Term{vocabTerm("776", "勉強", "べんきょう", "1586730")},
		},
		ContentsErrOnPage: map[int]error{1: errors.New("dial tcp: connection refused")},
	}
	bridge, _ := newTestBridge(t, mock)

	added, err := bridge.AddNote(context.Background(), "", testNote("勉強/べんきょう", "12094:main:N3 Vocab"))

	require.Error(t, err)
	assert.False(t, added)
	assert.Contains(t, err.Error(), "warming cache")
}

// TestBridge_WarmListCache_CollapsesConcurrentFetches verifies that
// simultaneous first contacts with a list fetch its contents once.
func TestBridge_WarmListCache_CollapsesConcurrentFetches(t *testing.T) {
	mock := &MockRenshuuClient{
		ContentsPages: map[int]renshuu.ListContentsResponse{
			1: contentsPage(1, 1, vocabContentTerm("801", "食べる", "たべる")),
		},
	}
	bridge, store := newTestBridge(t, mock)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = bridge.warmListCache(context.Background(), "test-key", "12094")
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "warm %d should succeed", i)
	}
	assert.Equal(t, 1, mock.ContentsCalls, "concurrent warms should fetch the list once")

	count, err := store.CountListMemberships(context.Background(), "12094")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// =============================================================================
// CanAddNotes Tests
// =============================================================================

// TestBridge_CanAddNotes_AllTrue verifies the API-conserving contract:
// every note is reported addable without touching Renshuu.
func TestBridge_CanAddNotes_AllTrue(t *testing.T) {
	mock := &MockRenshuuClient{}
	bridge := NewBridge(mock, nil, "test-key", nil)

	notes := []datatypes.Note{
		testNote("勉強/べんきょう", "12094:main:N3 Vocab"),
		testNote("食べる/たべる", "garbage"),
		testNote("", ""),
	}

	results := bridge.CanAddNotes(notes)

	assert.Equal(t, []bool{true, true, true}, results)
	assert.Zero(t, mock.SearchCalls, "canAddNotes must not call the API")
}

// TestBridge_CanAddNotesWithErrorDetail verifies duplicates are flagged
// from the cache alone, with the exact message Anki clients match on.
func TestBridge_CanAddNotesWithErrorDetail(t *testing.T) {
	mock := &MockRenshuuClient{}
	bridge, store := newTestBridge(t, mock)
	seedCachedWord(t, store, storage.Word{
		RenshuuID: "776", Japanese: "勉強", Reading: "べんきょう", JmdictID: "1586730",
	})
	seedMembership(t, store, "12094", "776")

	notes := []datatypes.Note{
		testNote("勉強/べんきょう", "12094:main:N3 Vocab"),  // cached duplicate
		testNote("犬/いぬ", "12094:main:N3 Vocab"),       // never seen
		testNote("勉強/べんきょう", "20555:main:Genki II"), // cached word, other list
		testNote("勉強/べんきょう", "My Cool Deck"),         // cached word, no list id
	}

	details, err := bridge.CanAddNotesWithErrorDetail(context.Background(), notes)

	require.NoError(t, err)
	require.Len(t, details, 4)

	assert.False(t, details[0].CanAdd)
	assert.Equal(t, "cannot create note because it is a duplicate", details[0].Error)

	for i := 1; i < 4; i++ {
		assert.Truef(t, details[i].CanAdd, "note %d should be addable", i)
		assert.Emptyf(t, details[i].Error, "note %d should carry no error", i)
	}

	assert.Zero(t, mock.SearchCalls, "duplicate checks must stay cache-only")
	assert.Zero(t, mock.ContentsCalls, "duplicate checks must not warm lists")
}

// TestBridge_CanAddNotesWithErrorDetail_Empty verifies an empty batch
// returns an empty, non-nil result.
func TestBridge_CanAddNotesWithErrorDetail_Empty(t *testing.T) {
	bridge, _ := newTestBridge(t, &MockRenshuuClient{})

	details, err := bridge.CanAddNotesWithErrorDetail(context.Background(), nil)

	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Empty(t, details)
}

// TestBridge_CanAddNotesWithErrorDetail_BlankNote verifies one blank
// note does not fail the rest of the batch.
func TestBridge_CanAddNotesWithErrorDetail_BlankNote(t *testing.T) {
	bridge, store := newTestBridge(t, &MockRenshuuClient{})
	seedCachedWord(t, store, storage.Word{
		RenshuuID: "776", Japanese: "勉強", Reading: "べんきょう",
	})
	seedMembership(t, store, "12094", "776")

	notes := []datatypes.Note{
		testNote("", "12094:main:N3 Vocab"),
		testNote("勉強/べんきょう", "12094:main:N3 Vocab"),
	}

	details, err := bridge.CanAddNotesWithErrorDetail(context.Background(), notes)

	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.True(t, details[0].CanAdd, "blank note is addable as far as the cache knows")
	assert.False(t, details[1].CanAdd, "duplicate beside it is still flagged")
}

// =============================================================================
// FindNotes Tests
// =============================================================================

// TestBridge_FindNotes verifies deck clauses and bare terms resolve
// against cached forms and readings.
func TestBridge_FindNotes(t *testing.T) {
	bridge, store := newTestBridge(t, &MockRenshuuClient{})
	seedCachedWord(t, store, storage.Word{RenshuuID: "776", Japanese: "勉強", Reading: "べんきょう"})
	seedCachedWord(t, store, storage.Word{RenshuuID: "801", Japanese: "食べる", Reading: "たべる"})
	seedMembership(t, store, "12094", "776")
	seedMembership(t, store, "20555", "801")

	ctx := context.Background()

	ids, err := bridge.FindNotes(ctx, `deck:"12094:main:N3 Vocab" 勉強`)
	require.NoError(t, err)
	assert.Equal(t, []int64{776}, ids)

	ids, err = bridge.FindNotes(ctx, "たべる")
	require.NoError(t, err)
	assert.Equal(t, []int64{801}, ids, "readings should match without a deck clause")

	ids, err = bridge.FindNotes(ctx, `deck:"12094:main:N3 Vocab" 食べる`)
	require.NoError(t, err)
	assert.Empty(t, ids, "term on another list should not match")

	ids, err = bridge.FindNotes(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, ids, "result must serialize as a JSON array")
	assert.Empty(t, ids, "empty query matches nothing")
}

// =============================================================================
// Cache Administration Tests
// =============================================================================

// TestBridge_DropListCache verifies memberships are removed, words are
// kept, and the drop is audited.
func TestBridge_DropListCache(t *testing.T) {
	store := openBridgeStore(t)
	audit := &extensions.MemoryAuditLogger{}
	opts := extensions.DefaultOptions().WithAudit(audit)
	bridge := NewBridge(&MockRenshuuClient{}, store, "test-key", &opts)

	seedCachedWord(t, store, storage.Word{RenshuuID: "776", Japanese: "勉強", Reading: "べんきょう"})
	seedCachedWord(t, store, storage.Word{RenshuuID: "801", Japanese: "食べる", Reading: "たべる"})
	seedMembership(t, store, "12094", "776")
	seedMembership(t, store, "12094", "801")

	ctx := context.Background()

	result, err := bridge.DropListCache(ctx, "12094")
	require.NoError(t, err)
	assert.Equal(t, DropResult{DeletedCount: 2, ListID: "12094"}, result)

	_, err = store.GetWordByForm(ctx, "勉強", "べんきょう")
	assert.NoError(t, err, "dropping a list keeps its words cached")

	result, err = bridge.DropListCache(ctx, "12094")
	require.NoError(t, err)
	assert.Equal(t, DropResult{DeletedCount: 0, ListID: "12094"}, result, "second drop deletes nothing")

	events := audit.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "cache.drop", events[0].EventType)
	assert.Equal(t, "12094", events[0].ResourceID)
	assert.Equal(t, int64(2), events[0].Metadata["deleted_count"])
}

// TestBridge_DropListCache_InvalidID verifies malformed list ids are
// rejected before touching the store.
func TestBridge_DropListCache_InvalidID(t *testing.T) {
	bridge, _ := newTestBridge(t, &MockRenshuuClient{})

	_, err := bridge.DropListCache(context.Background(), "../etc/passwd")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list id")
}

// TestBridge_CacheSummary verifies totals flow through from the store.
func TestBridge_CacheSummary(t *testing.T) {
	bridge, store := newTestBridge(t, &MockRenshuuClient{})
	seedCachedWord(t, store, storage.Word{RenshuuID: "776", Japanese: "勉強", Reading: "べんきょう"})
	seedCachedWord(t, store, storage.Word{RenshuuID: "801", Japanese: "食べる", Reading: "たべる"})
	seedMembership(t, store, "12094", "776")
	seedMembership(t, store, "20555", "776")
	seedMembership(t, store, "20555", "801")

	summary, err := bridge.CacheSummary(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Words)
	assert.Equal(t, int64(2), summary.Lists)
	assert.Equal(t, int64(3), summary.Memberships)
}

// =============================================================================
// Query Parsing Tests
// =============================================================================

// TestParseFindQuery covers the query subset Anki clients emit.
func TestParseFindQuery(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantLists []string
		wantTerms []string
	}{
		{
			name:      "quoted deck clause with term",
			query:     `deck:"12094:main:N3 Vocab" 勉強`,
			wantLists: []string{"12094"},
			wantTerms: []string{"勉強"},
		},
		{
			name:      "bare deck id",
			query:     "deck:20555",
			wantLists: []string{"20555"},
		},
		{
			name:      "invalid deck id dropped",
			query:     "deck:garbage 犬",
			wantTerms: []string{"犬"},
		},
		{
			name:      "plain terms only",
			query:     "勉強 たべる",
			wantTerms: []string{"勉強", "たべる"},
		},
		{
			name:      "multiple deck clauses",
			query:     `deck:12094 deck:"20555:main:Genki II"`,
			wantLists: []string{"12094", "20555"},
		},
		{
			name:  "empty query",
			query: "",
		},
		{
			name:  "whitespace only",
			query: "   ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lists, terms := parseFindQuery(tt.query)
			assert.Equal(t, tt.wantLists, lists)
			assert.Equal(t, tt.wantTerms, terms)
		})
	}
}

// TestSplitQueryTokens verifies quoted runs keep their spaces and drop
// their quotes.
func TestSplitQueryTokens(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"quoted run with spaces", `deck:"a b" c`, []string{"deck:a b", "c"}},
		{"plain tokens", "a b c", []string{"a", "b", "c"}},
		{"unbalanced quote swallows rest", `"a b`, []string{"a b"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitQueryTokens(tt.query))
		})
	}
}

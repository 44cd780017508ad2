package server

import (
	"fmt"
	"net/http"
	"testing"
)

func TestRecordEndpointsRequireSession(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := fixture.do(t, http.MethodPost, "/api/records", `{"title":"t","body":"b"}`)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for add, got %d", recorder.Code)
	}
	recorder = fixture.do(t, http.MethodDelete, "/api/records/some-id", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for delete, got %d", recorder.Code)
	}
	recorder = fixture.do(t, http.MethodPost, "/api/records", `{"title":"t","body":"b"}`,
		&http.Cookie{Name: "session", Value: "forged"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a forged cookie, got %d", recorder.Code)
	}
}

func TestAddRecord(t *testing.T) {
	fixture := newRouterFixture(t)
	cookie := fixture.sessionCookie(t)

	recorder := fixture.do(t, http.MethodPost, "/api/records",
		`{"title":"hello","body":"world"}`, cookie)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", recorder.Code, recorder.Body.String())
	}

	body := decodeBody(t, recorder)
	if body["title"] != "hello" || body["body"] != "world" {
		t.Fatalf("unexpected record payload: %v", body)
	}
	if body["ownerId"] != testSubjectID {
		t.Fatalf("expected owner from session, got %v", body["ownerId"])
	}
	if body["ownerEmail"] != "user@example.com" {
		t.Fatalf("expected denormalized email, got %v", body["ownerEmail"])
	}
	if body["id"] == "" || body["id"] == nil {
		t.Fatal("expected an assigned id")
	}
}

func TestAddRecordRejectsBlankFields(t *testing.T) {
	fixture := newRouterFixture(t)
	cookie := fixture.sessionCookie(t)

	for _, payload := range []string{
		`{"title":"   ","body":"b"}`,
		`{"title":"t","body":""}`,
		`{}`,
	} {
		recorder := fixture.do(t, http.MethodPost, "/api/records", payload, cookie)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("payload %q: expected 400, got %d", payload, recorder.Code)
		}
	}
}

func TestDeleteRecord(t *testing.T) {
	fixture := newRouterFixture(t)
	cookie := fixture.sessionCookie(t)

	recorder := fixture.do(t, http.MethodPost, "/api/records",
		`{"title":"hello","body":"world"}`, cookie)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("add failed: %d", recorder.Code)
	}
	recordID, _ := decodeBody(t, recorder)["id"].(string)

	recorder = fixture.do(t, http.MethodDelete, "/api/records/"+recordID, "", cookie)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	recorder = fixture.do(t, http.MethodDelete, "/api/records/"+recordID, "", cookie)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing record, got %d", recorder.Code)
	}
}

func TestFeedPagination(t *testing.T) {
	fixture := newRouterFixture(t)
	cookie := fixture.sessionCookie(t)

	for i := 0; i < 25; i++ {
		recorder := fixture.do(t, http.MethodPost, "/api/records",
			fmt.Sprintf(`{"title":"title %d","body":"body %d"}`, i, i), cookie)
		if recorder.Code != http.StatusCreated {
			t.Fatalf("seed %d failed: %d", i, recorder.Code)
		}
	}

	collected := make(map[string]struct{}, 25)
	cursor := ""
	pageSizes := []int{10, 10, 5}

	for pageIndex, expected := range pageSizes {
		target := "/api/feed"
		if cursor != "" {
			target += "?cursor=" + cursor
		}
		recorder := fixture.do(t, http.MethodGet, target, "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("page %d failed: %d", pageIndex, recorder.Code)
		}
		body := decodeBody(t, recorder)
		records, ok := body["records"].([]any)
		if !ok {
			t.Fatalf("page %d: unexpected records payload: %v", pageIndex, body["records"])
		}
		if len(records) != expected {
			t.Fatalf("page %d: expected %d records, got %d", pageIndex, expected, len(records))
		}

		wantMore := expected == 10
		if body["hasMore"] != wantMore {
			t.Fatalf("page %d: expected hasMore=%t, got %v", pageIndex, wantMore, body["hasMore"])
		}

		for _, entry := range records {
			record := entry.(map[string]any)
			id := record["id"].(string)
			if _, duplicate := collected[id]; duplicate {
				t.Fatalf("record %s appeared on two pages", id)
			}
			collected[id] = struct{}{}
		}
		cursor, _ = body["nextCursor"].(string)
	}

	if len(collected) != 25 {
		t.Fatalf("expected all 25 records across pages, got %d", len(collected))
	}
}

func TestFeedIsPublic(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := fixture.do(t, http.MethodGet, "/api/feed", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected anonymous feed access, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if body["hasMore"] != false {
		t.Fatalf("expected exhausted empty feed, got %v", body)
	}
}

func TestFeedRejectsBadInputs(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := fixture.do(t, http.MethodGet, "/api/feed?cursor=%25bad%25", "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad cursor, got %d", recorder.Code)
	}
	if body := decodeBody(t, recorder); body["error"] != "invalid_cursor" {
		t.Fatalf("unexpected error: %v", body["error"])
	}

	recorder = fixture.do(t, http.MethodGet, "/api/feed?limit=zero", "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad limit, got %d", recorder.Code)
	}

	recorder = fixture.do(t, http.MethodGet, "/api/feed?limit=-3", "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative limit, got %d", recorder.Code)
	}
}

func TestFeedCapsLimit(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := fixture.do(t, http.MethodGet, "/api/feed?limit=500", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected capped limit to succeed, got %d", recorder.Code)
	}
}

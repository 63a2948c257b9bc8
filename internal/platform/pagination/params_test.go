package pagination

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if !params.Cursor.IsZero() {
		t.Fatalf("expected zero cursor, got %#v", params.Cursor)
	}
}

func TestParsePageSizeClamped(t *testing.T) {
	values := url.Values{}
	values.Set("pageSize", "400")
	params, err := Parse(values, Options{DefaultPageSize: 10, MaxPageSize: 40})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 40 {
		t.Fatalf("expected page size clamped to 40 got %d", params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		values := url.Values{}
		values.Set("pageSize", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize %q: expected ErrInvalidPageSize, got %v", raw, err)
		}
	}
}

func TestTokenRoundTripThroughRequest(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC), ID: "ord_01"}
	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/orders?pageToken="+token, nil)
	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if params.Cursor.ID != cursor.ID || !params.Cursor.CreatedAt.Equal(cursor.CreatedAt) {
		t.Fatalf("cursor mismatch: %#v", params.Cursor)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodeToken("%%%"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestCursorAdmits(t *testing.T) {
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	cursor := Cursor{CreatedAt: at, ID: "b"}

	if !cursor.Admits(at.Add(-time.Minute), "z") {
		t.Fatal("older item should follow the cursor")
	}
	if cursor.Admits(at.Add(time.Minute), "a") {
		t.Fatal("newer item should precede the cursor")
	}
	if !cursor.Admits(at, "a") || cursor.Admits(at, "c") {
		t.Fatal("ties should break on id descending")
	}
	if !(Cursor{}).Admits(at, "x") {
		t.Fatal("zero cursor admits everything")
	}
}

package qr

import (
	"errors"
	"testing"

	"github.com/dharsanguruparan/nexuspass/internal/model"
)

func TestParseScheme(t *testing.T) {
	if s, err := ParseScheme(" ID_NAME "); err != nil || s != SchemeIDName {
		t.Fatalf("expected id_name, got %q (%v)", s, err)
	}
	if _, err := ParseScheme("qr+email"); err == nil {
		t.Fatalf("expected error for unknown scheme")
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		scheme  Scheme
		in      model.Attendee
		want    string
		wantErr bool
	}{
		{name: "bare id", scheme: SchemeID, in: model.Attendee{ID: "E100", Name: "Ada"}, want: "E100"},
		{name: "id and name", scheme: SchemeIDName, in: model.Attendee{ID: "E100", Name: "Ada Lovelace"}, want: "E100 Ada Lovelace"},
		{name: "missing name", scheme: SchemeIDName, in: model.Attendee{ID: "E100"}, wantErr: true},
		{name: "id with space", scheme: SchemeID, in: model.Attendee{ID: "E 100"}, wantErr: true},
		{name: "empty id", scheme: SchemeID, in: model.Attendee{}, wantErr: true},
		{name: "line break in name", scheme: SchemeIDName, in: model.Attendee{ID: "E100", Name: "Ada\nLovelace"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.scheme.Encode(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		scheme    Scheme
		payload   string
		want      model.Identity
		malformed bool
	}{
		{name: "bare id", scheme: SchemeID, payload: "E100", want: model.Identity{ID: "E100"}},
		{name: "bare id trailing newline", scheme: SchemeID, payload: "E100\n", want: model.Identity{ID: "E100"}},
		{name: "composite on bare scheme", scheme: SchemeID, payload: "E100 Ada", malformed: true},
		{name: "empty", scheme: SchemeID, payload: "  ", malformed: true},
		{name: "composite", scheme: SchemeIDName, payload: "E100 Ada Lovelace", want: model.Identity{ID: "E100", Name: "Ada Lovelace"}},
		{name: "old single field code", scheme: SchemeIDName, payload: "justoneid", malformed: true},
		{name: "separator without name", scheme: SchemeIDName, payload: "E100 ", malformed: true},
		{name: "trailing space kept in name", scheme: SchemeIDName, payload: "E1 Bob ", want: model.Identity{ID: "E1", Name: "Bob "}},
		{name: "double separator", scheme: SchemeIDName, payload: "E1  Bob", want: model.Identity{ID: "E1", Name: " Bob"}},
		{name: "composite trailing newline", scheme: SchemeIDName, payload: "E1 Bob\r\n", want: model.Identity{ID: "E1", Name: "Bob"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.scheme.Parse(tc.payload)
			if tc.malformed {
				if !errors.Is(err, model.ErrMalformedPayload) {
					t.Fatalf("expected ErrMalformedPayload, got %v (%+v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestEncodeParseAgree(t *testing.T) {
	people := []model.Attendee{
		{ID: "E7", Name: "Grace Brewster Hopper"},
		{ID: "E8", Name: "Bob "},
		{ID: "E9", Name: "  Lead Space"},
		{ID: "E10", Name: "Tab\tName"},
	}
	for _, a := range people {
		for _, s := range []Scheme{SchemeID, SchemeIDName} {
			payload, err := s.Encode(a)
			if err != nil {
				t.Fatalf("%s encode %q: %v", s, a.Name, err)
			}
			id, err := s.Parse(payload)
			if err != nil {
				t.Fatalf("%s parse %q: %v", s, payload, err)
			}
			if id.ID != a.ID {
				t.Fatalf("%s: expected id %q, got %q", s, a.ID, id.ID)
			}
			if s == SchemeIDName && id.Name != a.Name {
				t.Fatalf("expected name %q, got %q", a.Name, id.Name)
			}
		}
	}
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("E100"); got != "qrcodes/E100.png" {
		t.Fatalf("unexpected key %q", got)
	}
}

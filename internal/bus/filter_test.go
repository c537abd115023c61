package bus

import (
	"errors"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/dshills/plexus/internal/message"
)

func TestFilters(t *testing.T) {
	login := message.NewNotice("user.login", map[string]any{"user": "Alex", "attempts": 3}).WithSource("auth")
	request := message.NewIntentRequest("editor", "open", nil).WithSource("shell")
	proposal := message.NewProposal("editor", "format", nil)

	tests := []struct {
		name   string
		filter FilterFunc
		msg    message.Message
		want   bool
	}{
		{"source match", FilterBySource("auth"), login, true},
		{"source mismatch", FilterBySource("auth"), request, false},
		{"sources", FilterBySources("x", "shell"), request, true},
		{"exclude source", FilterExcludeSource("auth"), login, false},
		{"category", FilterByCategory(message.CategoryNotice), login, true},
		{"category mismatch", FilterByCategory(message.CategoryProposal), login, false},
		{"target request", FilterByTarget("editor"), request, true},
		{"target proposal", FilterByTarget("editor"), proposal, true},
		{"target notice", FilterByTarget("editor"), login, false},
		{"type prefix", FilterByTypePrefix("user."), login, true},
		{"payload exists", FilterPayloadExists("user"), login, true},
		{"payload missing", FilterPayloadExists("missing"), login, false},
		{"payload equals", FilterPayloadEquals("user", "Alex"), login, true},
		{"payload differs", FilterPayloadEquals("user", "Sam"), login, false},
		{"payload pred", FilterPayload("attempts", func(r gjson.Result) bool { return r.Int() > 2 }), login, true},
		{"and", FilterAnd(FilterBySource("auth"), FilterByCategory(message.CategoryNotice)), login, true},
		{"and fails", FilterAnd(FilterBySource("auth"), FilterByCategory(message.CategoryProposal)), login, false},
		{"or", FilterOr(FilterBySource("x"), FilterBySource("auth")), login, true},
		{"not", FilterNot(FilterBySource("auth")), login, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter(tt.msg); got != tt.want {
				t.Errorf("filter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReport_Merge(t *testing.T) {
	a := Report{MessageID: "1", Type: "t.a", Delivered: 2, Succeeded: 2}
	b := Report{MessageID: "2", Type: "t.b", Delivered: 1, Failed: 1, Errors: []*HandlerError{{Err: errTest}}}

	got := Merge(a, b)
	if got.MessageID != "1" || got.Delivered != 3 || got.Failed != 1 || len(got.Errors) != 1 {
		t.Errorf("Merge() = %+v", got)
	}
	if got.OK() {
		t.Error("merged report with a failure should not be OK")
	}
}

var errTest = errors.New("test failure")

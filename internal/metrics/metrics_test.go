package metrics

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestIncRateLimitDrop(t *testing.T) {
	// 重置全局状态
	reset()

	tests := []struct {
		name   string
		prefix string
	}{
		{name: "increment with prefix", prefix: "/public/"},
		{name: "increment with empty prefix (defaults to global)", prefix: ""},
		{name: "increment global", prefix: "global"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initialTotal, _ := RateLimitSnapshot()

			IncRateLimitDrop(tt.prefix)

			newTotal, byPrefix := RateLimitSnapshot()
			if newTotal != initialTotal+1 {
				t.Errorf("total = %d, want %d", newTotal, initialTotal+1)
			}
			expectedPrefix := tt.prefix
			if expectedPrefix == "" {
				expectedPrefix = "global"
			}
			if byPrefix[expectedPrefix] == 0 {
				t.Errorf("prefix %s not incremented", expectedPrefix)
			}
		})
	}
}

func TestCounters_Concurrent(t *testing.T) {
	reset()

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			IncFormSubmission()
			IncTicketCreated("form")
			IncRateLimitDrop("/portal/otp")
		}()
	}
	wg.Wait()

	s := Current()
	if s.FormSubmissions != goroutines {
		t.Errorf("submissions = %d, want %d", s.FormSubmissions, goroutines)
	}
	if s.TicketsBySource["form"] != goroutines || s.TicketsCreated != goroutines {
		t.Errorf("tickets = %d/%v", s.TicketsCreated, s.TicketsBySource)
	}
	if s.RateLimitByPrefix["/portal/otp"] != goroutines {
		t.Errorf("rate limit drops = %v", s.RateLimitByPrefix)
	}
}

func TestWritePrometheus(t *testing.T) {
	reset()
	IncRuleMatch()
	IncTicketCreated("")
	IncTicketCreated("email")
	IncGmailThreadImported()

	var buf bytes.Buffer
	WritePrometheus(&buf)
	out := buf.String()

	for _, want := range []string{
		"# TYPE supportdesk_rule_matches_total counter",
		"supportdesk_rule_matches_total 1",
		`supportdesk_tickets_created_total{source="email"} 1`,
		`supportdesk_tickets_created_total{source="unknown"} 1`,
		"supportdesk_gmail_threads_imported_total 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// labeledCounter 带一个标签的计数器
type labeledCounter struct {
	total   uint64
	mu      sync.Mutex
	byLabel map[string]uint64
}

func (c *labeledCounter) inc(label string) {
	atomic.AddUint64(&c.total, 1)
	c.mu.Lock()
	if c.byLabel == nil {
		c.byLabel = make(map[string]uint64)
	}
	c.byLabel[label]++
	c.mu.Unlock()
}

func (c *labeledCounter) snapshot() (uint64, map[string]uint64) {
	total := atomic.LoadUint64(&c.total)
	c.mu.Lock()
	defer c.mu.Unlock()
	by := make(map[string]uint64, len(c.byLabel))
	for k, v := range c.byLabel {
		by[k] = v
	}
	return total, by
}

var (
	rl             labeledCounter // 限流拒绝，按路径前缀
	ticketsCreated labeledCounter // 新建工单，按来源
	submissions    uint64
	ruleMatches    uint64
	gmailThreads   uint64
	gmailMessages  uint64
	gmailErrors    uint64
)

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	rl.inc(prefix)
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	return rl.snapshot()
}

// IncFormSubmission 记录一次成功保存的表单提交
func IncFormSubmission() { atomic.AddUint64(&submissions, 1) }

// IncRuleMatch 记录一次规则命中并建单
func IncRuleMatch() { atomic.AddUint64(&ruleMatches, 1) }

// IncTicketCreated 按来源（web/form/email/portal）记录新建工单
func IncTicketCreated(source string) {
	if source == "" {
		source = "unknown"
	}
	ticketsCreated.inc(source)
}

func IncGmailThreadImported()  { atomic.AddUint64(&gmailThreads, 1) }
func IncGmailMessageImported() { atomic.AddUint64(&gmailMessages, 1) }
func IncGmailSyncError()       { atomic.AddUint64(&gmailErrors, 1) }

// Snapshot 所有计数器的只读快照
type Snapshot struct {
	FormSubmissions       uint64
	RuleMatches           uint64
	TicketsCreated        uint64
	TicketsBySource       map[string]uint64
	GmailThreadsImported  uint64
	GmailMessagesImported uint64
	GmailSyncErrors       uint64
	RateLimitDrops        uint64
	RateLimitByPrefix     map[string]uint64
}

// Current 返回当前计数
func Current() Snapshot {
	s := Snapshot{
		FormSubmissions:       atomic.LoadUint64(&submissions),
		RuleMatches:           atomic.LoadUint64(&ruleMatches),
		GmailThreadsImported:  atomic.LoadUint64(&gmailThreads),
		GmailMessagesImported: atomic.LoadUint64(&gmailMessages),
		GmailSyncErrors:       atomic.LoadUint64(&gmailErrors),
	}
	s.TicketsCreated, s.TicketsBySource = ticketsCreated.snapshot()
	s.RateLimitDrops, s.RateLimitByPrefix = rl.snapshot()
	return s
}

// WritePrometheus 以 Prometheus 文本格式输出
func WritePrometheus(w io.Writer) {
	s := Current()
	counter(w, "supportdesk_form_submissions_total", "Stored form submissions", s.FormSubmissions)
	counter(w, "supportdesk_rule_matches_total", "Ticket rules that fired", s.RuleMatches)
	labeled(w, "supportdesk_tickets_created_total", "Tickets created", "source", s.TicketsBySource)
	counter(w, "supportdesk_gmail_threads_imported_total", "Gmail threads turned into tickets", s.GmailThreadsImported)
	counter(w, "supportdesk_gmail_messages_imported_total", "Gmail messages imported", s.GmailMessagesImported)
	counter(w, "supportdesk_gmail_sync_errors_total", "Gmail sync failures", s.GmailSyncErrors)
	counter(w, "supportdesk_rate_limit_dropped_total", "Requests rejected by rate limiting", s.RateLimitDrops)
	labeled(w, "supportdesk_rate_limit_dropped_by_prefix_total", "Rate limit drops per path prefix", "prefix", s.RateLimitByPrefix)
}

func counter(w io.Writer, name, help string, v uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
}

func labeled(w io.Writer, name, help, label string, by map[string]uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	keys := make([]string, 0, len(by))
	for k := range by {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s{%s=%q} %d\n", name, label, k, by[k])
	}
}

// reset 仅供测试使用
func reset() {
	rl = labeledCounter{}
	ticketsCreated = labeledCounter{}
	atomic.StoreUint64(&submissions, 0)
	atomic.StoreUint64(&ruleMatches, 0)
	atomic.StoreUint64(&gmailThreads, 0)
	atomic.StoreUint64(&gmailMessages, 0)
	atomic.StoreUint64(&gmailErrors, 0)
}

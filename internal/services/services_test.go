package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"supportdesk/internal/config"
	"supportdesk/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:services_" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// fixture 一个公司、一个客户组织、一名员工，以及装配好的服务
type fixture struct {
	db          *gorm.DB
	logger      *logrus.Logger
	tenant      *TenantService
	sla         *SLAService
	tickets     *TicketService
	forms       *FormService
	identity    *IdentityResolver
	portal      *PortalService
	submissions *SubmissionService
	notifier    *captureNotifier

	company *models.Company
	client  *models.Client
	agent   *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := newTestDB(t)
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	cfg := config.GetDefaultConfig()

	f := &fixture{db: db, logger: log, notifier: &captureNotifier{}}
	f.tenant = NewTenantService(db, log)
	f.sla = NewSLAService(db, log)
	f.tickets = NewTicketService(db, log, f.sla)
	f.forms = NewFormService(db, log, f.tenant, cfg.Forms)
	f.identity = NewIdentityResolver(db, log, f.tenant)
	f.portal = NewPortalService(db, log, f.tenant, cfg.Portal, f.notifier)
	f.submissions = NewSubmissionService(db, log, f.forms, f.identity, f.tickets)

	var err error
	f.company, err = f.tenant.CreateCompany(ctx, &CompanyCreateRequest{Name: "Acme Support"})
	require.NoError(t, err)
	f.client, err = f.tenant.CreateClient(ctx, f.company.ID, &ClientCreateRequest{Name: "Globex", EmailDomains: "globex.com"})
	require.NoError(t, err)
	f.agent, err = f.tenant.EnsureUser(ctx, "agent@acme.io", "Agent Smith")
	require.NoError(t, err)
	_, err = f.tenant.AddMember(ctx, f.company.ID, f.agent.ID, models.RoleAgent)
	require.NoError(t, err)
	return f
}

func (f *fixture) createForm(t *testing.T, req *FormCreateRequest) *models.Form {
	t.Helper()
	if req.ClientID == 0 {
		req.ClientID = f.client.ID
	}
	form, err := f.forms.CreateForm(context.Background(), f.company.ID, req)
	require.NoError(t, err)
	return form
}

func (f *fixture) submit(form *models.Form, data map[string]interface{}, sess Session) (*SubmissionResult, error) {
	return f.submissions.Submit(context.Background(), &SubmitRequest{
		CompanySlug: f.company.Slug,
		ClientSlug:  f.client.Slug,
		FormSlug:    form.Slug,
		Data:        data,
	}, sess)
}

func (f *fixture) countSubmissions(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.FormSubmission{}).Count(&n).Error)
	return n
}

func (f *fixture) countTickets(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Ticket{}).Count(&n).Error)
	return n
}

type sentCode struct {
	accessID uint
	code     string
}

type captureNotifier struct {
	sent []sentCode
}

func (n *captureNotifier) SendOTP(ctx context.Context, access *models.PortalAccess, code string, _ time.Time) error {
	n.sent = append(n.sent, sentCode{accessID: access.ID, code: code})
	return nil
}

func (n *captureNotifier) last() string {
	if len(n.sent) == 0 {
		return ""
	}
	return n.sent[len(n.sent)-1].code
}

func uintPtr(v uint) *uint { return &v }

package database

import (
	"context"
	"errors"
	"fmt"
	"os"

	"supportdesk/internal/config"
	"supportdesk/internal/models"
	"supportdesk/internal/services"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// SeedFile 初始数据文件格式
type SeedFile struct {
	Companies []SeedCompany `yaml:"companies"`
}

type SeedCompany struct {
	Name        string       `yaml:"name"`
	Slug        string       `yaml:"slug"`
	Members     []SeedMember `yaml:"members"`
	Clients     []SeedClient `yaml:"clients"`
	SLAPolicies []SeedPolicy `yaml:"sla_policies"`
}

type SeedMember struct {
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
	Role  string `yaml:"role"`
}

type SeedClient struct {
	Name           string       `yaml:"name"`
	Slug           string       `yaml:"slug"`
	EmailDomains   string       `yaml:"email_domains"`
	PortalAccesses []SeedMember `yaml:"portal_accesses"`
}

type SeedPolicy struct {
	Name                 string `yaml:"name"`
	Priority             string `yaml:"priority"`
	FirstResponseMinutes int    `yaml:"first_response_minutes"`
	ResolutionMinutes    int    `yaml:"resolution_minutes"`
}

// SeedReport 本次新增的记录数
type SeedReport struct {
	Companies      int
	Members        int
	Clients        int
	PortalAccesses int
	Policies       int
}

// LoadSeedFile 读取 YAML 初始数据
func LoadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

// Seed 写入初始数据；已存在的记录跳过，可重复执行
func Seed(ctx context.Context, db *gorm.DB, cfg *config.Config, data *SeedFile, log *logrus.Logger) (*SeedReport, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	tenant := services.NewTenantService(db, log)
	sla := services.NewSLAService(db, log)
	portal := services.NewPortalService(db, log, tenant, cfg.Portal, services.LogNotifier{Logger: log})

	report := &SeedReport{}
	for _, sc := range data.Companies {
		company, err := tenant.CreateCompany(ctx, &services.CompanyCreateRequest{Name: sc.Name, Slug: sc.Slug})
		switch {
		case err == nil:
			report.Companies++
		case errors.Is(err, services.ErrConflict):
			slug := sc.Slug
			if slug == "" {
				slug = services.Slugify(sc.Name)
			}
			if company, err = tenant.GetCompanyBySlug(ctx, services.Slugify(slug)); err != nil {
				return report, err
			}
		default:
			return report, fmt.Errorf("company %q: %w", sc.Name, err)
		}

		for _, sm := range sc.Members {
			user, err := tenant.EnsureUser(ctx, sm.Email, sm.Name)
			if err != nil {
				return report, fmt.Errorf("member %q: %w", sm.Email, err)
			}
			if _, err := tenant.GetMembership(ctx, company.ID, user.ID); err == nil {
				continue
			}
			if _, err := tenant.AddMember(ctx, company.ID, user.ID, sm.Role); err != nil {
				return report, fmt.Errorf("member %q: %w", sm.Email, err)
			}
			report.Members++
		}

		for _, cl := range sc.Clients {
			client, err := seedClient(ctx, db, tenant, company.ID, cl)
			if err != nil {
				return report, err
			}
			if client.created {
				report.Clients++
			}
			for _, pa := range cl.PortalAccesses {
				_, err := portal.CreateAccess(ctx, company.ID, &services.PortalAccessCreateRequest{
					ClientID: client.ID, Email: pa.Email, Name: pa.Name,
				})
				switch {
				case err == nil:
					report.PortalAccesses++
				case errors.Is(err, services.ErrConflict):
				default:
					return report, fmt.Errorf("portal access %q: %w", pa.Email, err)
				}
			}
		}

		for _, sp := range sc.SLAPolicies {
			_, err := sla.CreatePolicy(ctx, company.ID, &services.SLAPolicyCreateRequest{
				Name:                 sp.Name,
				Priority:             sp.Priority,
				FirstResponseMinutes: sp.FirstResponseMinutes,
				ResolutionMinutes:    sp.ResolutionMinutes,
			})
			switch {
			case err == nil:
				report.Policies++
			case errors.Is(err, services.ErrConflict):
			default:
				return report, fmt.Errorf("sla policy %q: %w", sp.Name, err)
			}
		}
	}
	log.Infof("Seed finished: %+v", *report)
	return report, nil
}

type seededClient struct {
	*models.Client
	created bool
}

func seedClient(ctx context.Context, db *gorm.DB, tenant *services.TenantService, companyID uint, cl SeedClient) (seededClient, error) {
	client, err := tenant.CreateClient(ctx, companyID, &services.ClientCreateRequest{
		Name: cl.Name, Slug: cl.Slug, EmailDomains: cl.EmailDomains,
	})
	if err == nil {
		return seededClient{Client: client, created: true}, nil
	}
	if !errors.Is(err, services.ErrConflict) {
		return seededClient{}, fmt.Errorf("client %q: %w", cl.Name, err)
	}
	slug := cl.Slug
	if slug == "" {
		slug = cl.Name
	}
	var existing models.Client
	if err := db.WithContext(ctx).Where("company_id = ? AND slug = ?", companyID, services.Slugify(slug)).First(&existing).Error; err != nil {
		return seededClient{}, fmt.Errorf("client %q: %w", cl.Name, err)
	}
	return seededClient{Client: &existing}, nil
}

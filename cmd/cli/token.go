package cli

import (
	"fmt"
	"strings"
	"time"

	"supportdesk/internal/config"
	"supportdesk/internal/services"

	"github.com/spf13/cobra"
)

var (
	flagUserID    uint
	flagCompanyID uint
	flagEmail     string
	flagRoles     string
	flagPerms     string
	flagTTLMin    int
)

// tokenCmd 签发员工 JWT，用于调试和运维脚本
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a staff JWT (HS256) for API authentication",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is empty; set it in config")
		}
		if flagCompanyID == 0 {
			return fmt.Errorf("--company-id is required")
		}
		claims := services.StaffClaims{
			UserID:      flagUserID,
			CompanyID:   flagCompanyID,
			Email:       flagEmail,
			Roles:       splitList(flagRoles),
			Permissions: splitList(flagPerms),
		}
		tok, err := services.IssueStaffToken(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(flagTTLMin)*time.Minute, claims)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().UintVar(&flagUserID, "user-id", 1, "numeric user id to embed in token")
	tokenCmd.Flags().UintVar(&flagCompanyID, "company-id", 0, "company the token is scoped to")
	tokenCmd.Flags().StringVar(&flagEmail, "email", "", "email claim (optional)")
	tokenCmd.Flags().StringVar(&flagRoles, "roles", "admin", "comma-separated roles (e.g. admin,agent)")
	tokenCmd.Flags().StringVar(&flagPerms, "perms", "", "comma-separated permissions (optional; extends RBAC mapping)")
	tokenCmd.Flags().IntVar(&flagTTLMin, "ttl", 60, "token time-to-live in minutes")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

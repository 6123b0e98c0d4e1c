package alerting

import "procodus.dev/sewer-monitor/internal/model"

// RecipientPolicy maps an alert severity to the roles that must be notified.
type RecipientPolicy func(model.Severity) []model.Role

// DefaultRecipientPolicy sends critical alerts to admins and operators and
// everything else to admins only.
func DefaultRecipientPolicy(s model.Severity) []model.Role {
	if s == model.SeverityCritical {
		return []model.Role{model.RoleAdmin, model.RoleOperator}
	}
	return []model.Role{model.RoleAdmin}
}

// NotifiableSeverities are the severities the dispatcher delivers.
var NotifiableSeverities = []model.Severity{model.SeverityCritical, model.SeverityHigh}

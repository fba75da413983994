package httpapi

import (
	"slices"
	"strings"

	"payboard/backend/internal/domain"
)

// RoleRoutes maps each role to the dashboard routes it may open. The first
// entry is the role's landing page.
var RoleRoutes = map[domain.Role][]string{
	domain.RoleAdmin: {
		"/admin",
		"/admin/vendas",
		"/admin/clientes",
		"/admin/maquinas",
		"/admin/pagamentos",
		"/admin/chaves-pix",
		"/admin/notificacoes",
		"/admin/usuarios",
	},
	domain.RoleClient: {
		"/cliente",
		"/cliente/vendas",
		"/cliente/maquinas",
		"/cliente/pagamentos",
		"/cliente/chaves-pix",
	},
	domain.RolePartner: {
		"/parceiro",
		"/parceiro/clientes",
		"/parceiro/vendas",
	},
	domain.RoleLogistics: {
		"/logistica",
		"/logistica/maquinas",
		"/logistica/estoque",
	},
	domain.RoleFinancial: {
		"/financeiro",
		"/financeiro/vendas",
		"/financeiro/pagamentos",
		"/financeiro/chaves-pix",
		"/financeiro/taxas",
	},
}

func PermittedRoutes(role domain.Role) []string {
	return slices.Clone(RoleRoutes[role])
}

// CanAccess reports whether role may open route or any page below one of its
// routes.
func CanAccess(role domain.Role, route string) bool {
	route = "/" + strings.Trim(strings.TrimSpace(route), "/")
	for _, allowed := range RoleRoutes[role] {
		if route == allowed || strings.HasPrefix(route, allowed+"/") {
			return true
		}
	}
	return false
}

func DefaultRoute(role domain.Role) string {
	routes := RoleRoutes[role]
	if len(routes) == 0 {
		return "/login"
	}
	return routes[0]
}

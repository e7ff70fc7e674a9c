package api

import (
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-identity"
	"github.com/google/uuid"
)

func userIDParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := identity.ParseUserID(c.Params("id"))
	if err != nil {
		return uuid.Nil, ErrInvalidUserID
	}
	return id, nil
}

func (s *server) listRoles(c *fiber.Ctx) error {
	roles, err := s.mgr.ListRoles(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"roles": roles})
}

func (s *server) createRole(c *fiber.Ctx) error {
	var in identity.RoleInput
	if err := bind(c, &in); err != nil {
		return err
	}
	role, err := s.mgr.CreateRole(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(role)
}

func (s *server) getRole(c *fiber.Ctx) error {
	role, err := s.mgr.GetRole(c.UserContext(), c.Params("slug"))
	if err != nil {
		return err
	}
	return c.JSON(role)
}

func (s *server) updateRole(c *fiber.Ctx) error {
	var in identity.RoleInput
	if err := bind(c, &in); err != nil {
		return err
	}
	role, err := s.mgr.UpdateRole(c.UserContext(), c.Params("slug"), in)
	if err != nil {
		return err
	}
	return c.JSON(role)
}

func (s *server) deleteRole(c *fiber.Ctx) error {
	if err := s.mgr.DeleteRole(c.UserContext(), c.Params("slug")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *server) assignRole(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	var req AssignRoleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := validate(req, "invalid role assignment"); err != nil {
		return err
	}
	user, err := s.mgr.AssignRole(c.UserContext(), id, req.Role)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (s *server) listUserPermissions(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	effective, err := s.mgr.ListEffectivePermissions(c.UserContext(), id)
	if err != nil {
		return err
	}
	grants, err := s.mgr.ListGrants(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"permissions": effective,
		"grants":      grants,
	})
}

func (s *server) grantPermission(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	var req GrantRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := validate(req, "invalid permission grant"); err != nil {
		return err
	}

	opts := identity.GrantOptions{Scope: req.Scope, ExpiresAt: req.ExpiresAt}
	if p, err := principal(c); err == nil {
		grantedBy := p.User.ID
		opts.GrantedBy = &grantedBy
	}

	grant, err := s.mgr.GrantPermission(c.UserContext(), id, req.Permission, opts)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(grant)
}

func (s *server) revokePermission(c *fiber.Ctx) error {
	id, err := userIDParam(c)
	if err != nil {
		return err
	}
	permission, err := url.PathUnescape(c.Params("permission"))
	if err != nil {
		return identity.ErrInvalidPermission
	}
	if err := s.mgr.RevokePermission(c.UserContext(), id, permission); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

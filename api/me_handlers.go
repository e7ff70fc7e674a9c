package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-identity"
)

func (s *server) me(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	providers, err := s.mgr.ListLinkedProviders(c.UserContext(), p.User.ID)
	if err != nil {
		return err
	}
	return c.JSON(MeResponse{
		User:      p.User,
		Providers: providers,
		SessionID: p.Session.ID,
	})
}

func (s *server) listSessions(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	sessions, err := s.mgr.Sessions().ListSessionsForSession(c.UserContext(), p.User.ID, p.Claims.SessionID)
	if err != nil {
		return err
	}
	return c.JSON(SessionsResponse{Sessions: sessions})
}

func (s *server) revokeOtherSessions(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	n, err := s.mgr.Sessions().RevokeOtherSessionsByID(c.UserContext(), p.User.ID, p.Claims.SessionID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"revoked": n})
}

func (s *server) revokeSession(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	if err := s.mgr.RevokeSession(c.UserContext(), p.User.ID, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *server) myPermissions(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	perms, err := s.mgr.ListEffectivePermissions(c.UserContext(), p.User.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"permissions": perms})
}

func (s *server) linkRedirect(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	provider, err := oauthProvider(c)
	if err != nil {
		return err
	}
	redirect, err := localRedirect(c.Query("redirect"))
	if err != nil {
		return err
	}
	target, err := s.mgr.OAuthAuthorize(c.UserContext(), provider, identity.AuthorizeOptions{
		Action:      identity.OAuthActionLink,
		LinkUserID:  p.User.ID,
		RedirectURL: redirect,
	})
	if err != nil {
		return err
	}
	return c.Redirect(target, fiber.StatusFound)
}

func (s *server) unlinkProvider(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	provider, err := identity.ParseProvider(c.Params("provider"))
	if err != nil {
		return err
	}
	user, err := s.mgr.UnlinkProvider(c.UserContext(), p.User.ID, provider)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (s *server) setPrimaryProvider(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	provider, err := identity.ParseProvider(c.Params("provider"))
	if err != nil {
		return err
	}
	user, err := s.mgr.SetPrimaryProvider(c.UserContext(), p.User.ID, provider)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-identity"
)

func (s *server) register(c *fiber.Ctx) error {
	var in identity.RegisterInput
	if err := bind(c, &in); err != nil {
		return err
	}
	pending, err := s.mgr.Register(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(RegisterResponse{
		Email:     pending.Email,
		ExpiresAt: pending.ExpiresAt,
	})
}

func (s *server) activate(c *fiber.Ctx) error {
	var req ActivateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := validate(req, "invalid activation request"); err != nil {
		return err
	}
	user, err := s.mgr.Activate(c.UserContext(), req.Email, req.Code)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}

func (s *server) resendActivation(c *fiber.Ctx) error {
	var req EmailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := validate(req, "invalid resend request"); err != nil {
		return err
	}
	pending, err := s.mgr.ResendActivationCode(c.UserContext(), req.Email)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(RegisterResponse{
		Email:     pending.Email,
		ExpiresAt: pending.ExpiresAt,
	})
}

func (s *server) login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := validate(req, "invalid login request"); err != nil {
		return err
	}
	issued, err := s.mgr.Login(c.UserContext(), req.Email, req.Password, clientInfo(c))
	if err != nil {
		return err
	}
	return c.JSON(issued)
}

func (s *server) refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := validate(req, "invalid refresh request"); err != nil {
		return err
	}
	issued, err := s.mgr.RefreshSession(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(issued)
}

func (s *server) logout(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := validate(req, "invalid logout request"); err != nil {
		return err
	}
	if err := s.mgr.Logout(c.UserContext(), req.RefreshToken); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func oauthProvider(c *fiber.Ctx) (identity.Provider, error) {
	p, err := identity.ParseProvider(c.Params("provider"))
	if err != nil {
		return "", err
	}
	if !p.IsOAuth() {
		return "", identity.ErrUnknownProvider
	}
	return p, nil
}

func (s *server) oauthRedirect(c *fiber.Ctx) error {
	provider, err := oauthProvider(c)
	if err != nil {
		return err
	}
	redirect, err := localRedirect(c.Query("redirect"))
	if err != nil {
		return err
	}
	target, err := s.mgr.OAuthAuthorize(c.UserContext(), provider, identity.AuthorizeOptions{
		Action:      identity.OAuthActionLogin,
		RedirectURL: redirect,
	})
	if err != nil {
		return err
	}
	return c.Redirect(target, fiber.StatusFound)
}

func (s *server) oauthCallback(c *fiber.Ctx) error {
	provider, err := oauthProvider(c)
	if err != nil {
		return err
	}
	if reason := c.Query("error"); reason != "" {
		return ErrOAuthDenied.Clone().WithMetadata(map[string]any{
			"provider": string(provider),
			"reason":   reason,
		})
	}
	outcome, err := s.mgr.OAuthCallback(c.UserContext(), provider, c.Query("code"), c.Query("state"), clientInfo(c))
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if outcome.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(outcome)
}

package api

import (
	"net/http"

	"juris/internal/auth"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ params) error {
	var req auth.RegisterRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	u, err := s.auth.Register(r.Context(), req)
	if err != nil {
		return err
	}
	created(w, u)
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ params) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	res, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		return err
	}
	ok(w, res)
	return nil
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, _ params) error {
	res, err := s.auth.Refresh(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		return err
	}
	ok(w, res)
	return nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ params) error {
	if err := s.auth.Logout(r.Context(), auth.TokenFromRequest(r)); err != nil {
		return err
	}
	ok(w, nil)
	return nil
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, _ params) error {
	u, err := s.auth.Me(r.Context(), userID(r))
	if err != nil {
		return err
	}
	ok(w, u)
	return nil
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, _ params) error {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	if err := s.auth.ChangePassword(r.Context(), userID(r), req.OldPassword, req.NewPassword); err != nil {
		return err
	}
	ok(w, nil)
	return nil
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, _ params) error {
	var req struct {
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	u, err := s.auth.UpdateProfile(r.Context(), userID(r), req.DisplayName, req.Email)
	if err != nil {
		return err
	}
	ok(w, u)
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ params) error {
	if err := s.store.Ping(r.Context()); err != nil {
		writeStatus(w, http.StatusServiceUnavailable, "database unavailable")
		return nil
	}
	ok(w, map[string]any{"status": "ok", "active_streams": s.chat.Stops().Count()})
	return nil
}

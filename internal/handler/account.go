// Package handler translates HTTP requests on the account routes into
// service calls and renders the results in the response envelope.
package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/iliyamo/videotube-accounts/internal/apperr"
	"github.com/iliyamo/videotube-accounts/internal/middleware"
	"github.com/iliyamo/videotube-accounts/internal/model"
	"github.com/iliyamo/videotube-accounts/internal/service"
)

const refreshTokenCookie = "refreshToken"

// AccountService is the set of operations the handlers need.
// *service.AccountService implements it.
type AccountService interface {
	Register(ctx context.Context, in service.RegisterInput) (model.Account, error)
	Login(ctx context.Context, username, email, password string) (service.Session, error)
	Logout(ctx context.Context, id bson.ObjectID) error
	RefreshSession(ctx context.Context, presented string) (service.TokenPair, error)
	ChangePassword(ctx context.Context, id bson.ObjectID, current, next string) error
	UpdateProfile(ctx context.Context, id bson.ObjectID, fullName, email string) (model.Account, error)
	UpdateAvatar(ctx context.Context, id bson.ObjectID, fh *multipart.FileHeader) (model.Account, error)
	UpdateCoverImage(ctx context.Context, id bson.ObjectID, fh *multipart.FileHeader) (model.Account, error)
	GetChannelProfile(ctx context.Context, viewer *bson.ObjectID, username string) (model.ChannelProfile, error)
	ToggleSubscription(ctx context.Context, viewer bson.ObjectID, channelUsername string) (bool, error)
	GetWatchHistory(ctx context.Context, id bson.ObjectID) ([]model.WatchedVideo, error)
}

// AccountHandler bundles the account endpoints.
type AccountHandler struct {
	svc           AccountService
	secureCookies bool
	timeout       time.Duration
	uploadTimeout time.Duration
}

// NewAccountHandler builds the handler. timeout bounds store calls per
// request; routes carrying files get uploadTimeout on top.
func NewAccountHandler(svc AccountService, secureCookies bool, timeout, uploadTimeout time.Duration) *AccountHandler {
	if svc == nil {
		panic("nil service passed to NewAccountHandler")
	}
	return &AccountHandler{svc: svc, secureCookies: secureCookies, timeout: timeout, uploadTimeout: uploadTimeout}
}

// ----- DTOs -----

type loginReq struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken" form:"refreshToken"`
}

type changePasswordReq struct {
	CurrentPassword string `json:"currentPassword" form:"currentPassword"`
	NewPassword     string `json:"newPassword" form:"newPassword"`
}

type updateAccountReq struct {
	FullName string `json:"fullname" form:"fullname"`
	Email    string `json:"email" form:"email"`
}

type loginResp struct {
	User         model.Account `json:"user"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
}

type tokensResp struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type subscriptionResp struct {
	Subscribed bool `json:"subscribed"`
}

// Register: create an account from a multipart form with avatar and optional cover.
func (h *AccountHandler) Register(c echo.Context) error {
	avatar, err := formFile(c, "avatar")
	if err != nil {
		return err
	}
	cover, err := formFile(c, "coverImage")
	if err != nil {
		return err
	}

	ctx, cancel := h.ctx(c, true)
	defer cancel()

	a, err := h.svc.Register(ctx, service.RegisterInput{
		FullName: c.FormValue("fullname"),
		Email:    c.FormValue("email"),
		Username: c.FormValue("username"),
		Password: c.FormValue("password"),
		Avatar:   avatar,
		Cover:    cover,
	})
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, a, "User registered successfully")
}

// Login: verify credentials, set token cookies and return both tokens.
func (h *AccountHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid body")
	}

	ctx, cancel := h.ctx(c, false)
	defer cancel()

	s, err := h.svc.Login(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		return err
	}
	h.setTokenCookies(c, s.Tokens)
	return respond(c, http.StatusOK, loginResp{
		User:         s.Account,
		AccessToken:  s.Tokens.AccessToken,
		RefreshToken: s.Tokens.RefreshToken,
	}, "User logged in successfully")
}

// Logout: drop the stored refresh token and clear both cookies.
func (h *AccountHandler) Logout(c echo.Context) error {
	id, err := accountID(c)
	if err != nil {
		return err
	}

	ctx, cancel := h.ctx(c, false)
	defer cancel()

	if err := h.svc.Logout(ctx, id); err != nil {
		return err
	}
	h.clearTokenCookies(c)
	return respond(c, http.StatusOK, nil, "User logged out")
}

// RefreshToken: rotate the refresh token from the cookie or the body.
func (h *AccountHandler) RefreshToken(c echo.Context) error {
	var presented string
	if ck, err := c.Cookie(refreshTokenCookie); err == nil {
		presented = ck.Value
	}
	if presented == "" {
		var req refreshReq
		if err := c.Bind(&req); err == nil {
			presented = req.RefreshToken
		}
	}

	ctx, cancel := h.ctx(c, false)
	defer cancel()

	pair, err := h.svc.RefreshSession(ctx, presented)
	if err != nil {
		return err
	}
	h.setTokenCookies(c, pair)
	return respond(c, http.StatusOK, tokensResp{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, "Access token refreshed")
}

// ChangePassword: verify the current password and store the new one.
func (h *AccountHandler) ChangePassword(c echo.Context) error {
	id, err := accountID(c)
	if err != nil {
		return err
	}
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid body")
	}

	ctx, cancel := h.ctx(c, false)
	defer cancel()

	if err := h.svc.ChangePassword(ctx, id, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return respond(c, http.StatusOK, nil, "Password changed successfully")
}

// Current: return the account attached by the auth gate.
func (h *AccountHandler) Current(c echo.Context) error {
	a, ok := middleware.CurrentAccount(c)
	if !ok {
		return apperr.Auth("Unauthorized request")
	}
	return respond(c, http.StatusOK, a, "User fetched successfully")
}

// UpdateAccount: change fullname and email.
func (h *AccountHandler) UpdateAccount(c echo.Context) error {
	id, err := accountID(c)
	if err != nil {
		return err
	}
	var req updateAccountReq
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid body")
	}

	ctx, cancel := h.ctx(c, false)
	defer cancel()

	a, err := h.svc.UpdateProfile(ctx, id, req.FullName, req.Email)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, a, "Account details updated successfully")
}

// UpdateAvatar: replace the avatar from the multipart field "avatar".
func (h *AccountHandler) UpdateAvatar(c echo.Context) error {
	return h.updateImage(c, "avatar", h.svc.UpdateAvatar, "Avatar image updated successfully")
}

// UpdateCoverImage: replace the cover image from the multipart field "coverImage".
func (h *AccountHandler) UpdateCoverImage(c echo.Context) error {
	return h.updateImage(c, "coverImage", h.svc.UpdateCoverImage, "Cover image updated successfully")
}

func (h *AccountHandler) updateImage(c echo.Context, field string,
	update func(context.Context, bson.ObjectID, *multipart.FileHeader) (model.Account, error), message string) error {
	id, err := accountID(c)
	if err != nil {
		return err
	}
	fh, err := formFile(c, field)
	if err != nil {
		return err
	}

	ctx, cancel := h.ctx(c, true)
	defer cancel()

	a, err := update(ctx, id, fh)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, a, message)
}

// ChannelProfile: public channel view; isSubscribed reflects the viewer if logged in.
func (h *AccountHandler) ChannelProfile(c echo.Context) error {
	var viewer *bson.ObjectID
	if id, ok := middleware.CurrentAccountID(c); ok {
		viewer = &id
	}

	ctx, cancel := h.ctx(c, false)
	defer cancel()

	p, err := h.svc.GetChannelProfile(ctx, viewer, c.Param("username"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, p, "User channel fetched successfully")
}

// ToggleSubscription: subscribe to or unsubscribe from a channel.
func (h *AccountHandler) ToggleSubscription(c echo.Context) error {
	id, err := accountID(c)
	if err != nil {
		return err
	}

	ctx, cancel := h.ctx(c, false)
	defer cancel()

	on, err := h.svc.ToggleSubscription(ctx, id, c.Param("username"))
	if err != nil {
		return err
	}
	msg := "Unsubscribed successfully"
	if on {
		msg = "Subscribed successfully"
	}
	return respond(c, http.StatusOK, subscriptionResp{Subscribed: on}, msg)
}

// WatchHistory: list watched videos with their owners.
func (h *AccountHandler) WatchHistory(c echo.Context) error {
	id, err := accountID(c)
	if err != nil {
		return err
	}

	ctx, cancel := h.ctx(c, false)
	defer cancel()

	videos, err := h.svc.GetWatchHistory(ctx, id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, videos, "Watch history fetched successfully")
}

// ----- helpers -----

func (h *AccountHandler) ctx(c echo.Context, upload bool) (context.Context, context.CancelFunc) {
	d := h.timeout
	if upload {
		d += h.uploadTimeout
	}
	if d <= 0 {
		return context.WithCancel(c.Request().Context())
	}
	return context.WithTimeout(c.Request().Context(), d)
}

func (h *AccountHandler) setTokenCookies(c echo.Context, pair service.TokenPair) {
	c.SetCookie(h.cookie(middleware.AccessTokenCookie, pair.AccessToken, pair.AccessExpiresAt))
	c.SetCookie(h.cookie(refreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt))
}

func (h *AccountHandler) clearTokenCookies(c echo.Context) {
	for _, name := range []string{middleware.AccessTokenCookie, refreshTokenCookie} {
		ck := h.cookie(name, "", time.Unix(0, 0))
		ck.MaxAge = -1
		c.SetCookie(ck)
	}
}

func (h *AccountHandler) cookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// formFile returns the uploaded file for field, or nil when absent.
func formFile(c echo.Context, field string) (*multipart.FileHeader, error) {
	fh, err := c.FormFile(field)
	switch {
	case err == nil:
		return fh, nil
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return nil, nil
	default:
		return nil, apperr.Validation("invalid multipart form")
	}
}

// accountID reads the authenticated account id set by VerifyJWT.
func accountID(c echo.Context) (bson.ObjectID, error) {
	id, ok := middleware.CurrentAccountID(c)
	if !ok {
		return bson.ObjectID{}, apperr.Auth("Unauthorized request")
	}
	return id, nil
}

package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dkeye/dumpvoice/internal/adapters/signal"
	"github.com/dkeye/dumpvoice/internal/app/orch"
	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/dkeye/dumpvoice/internal/identity"
	"github.com/dkeye/dumpvoice/internal/store"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type SessionRequest struct {
	Token string `json:"token"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type handlers struct {
	orch *orch.Orchestrator
	gate *identity.Gate
}

// MemberView is a participant as listed by the REST API.
type MemberView struct {
	domain.Participant
	Username string `json:"username,omitempty"`
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// createSession stores a verified token in the cookie session so browsers can
// open the voice websocket without a query token.
func (h *handlers) createSession(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid token"})
		return
	}
	if _, _, err := h.gate.Verify(req.Token); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": identity.ReasonInvalidToken})
		return
	}
	sess := sessions.Default(c)
	sess.Set(signal.SessionTokenKey, req.Token)
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not saved"})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *handlers) deleteSession(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Clear()
	_ = sess.Save()
	c.Status(http.StatusNoContent)
}

const callerKey = "caller"

// requireToken accepts a bearer header or the cookie session and resolves the
// caller through the directory.
func (h *handlers) requireToken(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token, _ = sessions.Default(c).Get(signal.SessionTokenKey).(string)
	}
	user, err := h.gate.Caller(c.Request.Context(), token)
	if errors.Is(err, identity.ErrDirectory) {
		log.Error().Err(err).Str("module", "adapters.http").Msg("caller lookup")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": identity.ReasonDatabase})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": identity.Reason(err)})
		return
	}
	c.Set(callerKey, user)
	c.Next()
}

func caller(c *gin.Context) *domain.User {
	u, _ := c.MustGet(callerKey).(*domain.User)
	return u
}

// requireAccess checks that the caller belongs to the server owning channel ch.
func (h *handlers) requireAccess(c *gin.Context, ch domain.ChannelID) bool {
	_, err := h.gate.Access(c.Request.Context(), caller(c), ch)
	switch {
	case err == nil:
		return true
	case errors.Is(err, identity.ErrChannelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": identity.ReasonChannel})
	case errors.Is(err, identity.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": identity.ReasonNotMember})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Int64("channel", int64(ch)).Msg("access check")
		c.JSON(http.StatusInternalServerError, gin.H{"error": identity.ReasonDatabase})
	}
	return false
}

// listChannels returns the active channels the caller can see.
func (h *handlers) listChannels(c *gin.Context) {
	user := caller(c)
	out := make([]core.ChannelInfo, 0)
	for _, info := range h.orch.Channels() {
		_, err := h.gate.Access(c.Request.Context(), user, info.ID)
		if err == nil {
			out = append(out, info)
			continue
		}
		if errors.Is(err, identity.ErrDirectory) {
			log.Warn().Err(err).Str("module", "adapters.http").Int64("channel", int64(info.ID)).Msg("channel access")
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) listMembers(c *gin.Context) {
	ch, ok := paramID(c, "id")
	if !ok {
		return
	}
	if !h.requireAccess(c, domain.ChannelID(ch)) {
		return
	}
	participants := h.orch.Participants(domain.ChannelID(ch))
	out := make([]MemberView, 0, len(participants))
	for _, p := range participants {
		v := MemberView{Participant: p}
		if u, err := h.gate.Directory.User(c.Request.Context(), p.ID); err == nil {
			v.Username = u.Username
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("module", "adapters.http").Int64("user", int64(p.ID)).Msg("member lookup")
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) kickMember(c *gin.Context) {
	ch, ok := paramID(c, "id")
	if !ok {
		return
	}
	uid, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	if !h.requireAccess(c, domain.ChannelID(ch)) {
		return
	}
	cur, in := h.orch.Members.ChannelOf(domain.UserID(uid))
	if !in || cur != domain.ChannelID(ch) || !h.orch.KickUser(domain.UserID(uid)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		return
	}
	log.Info().Str("module", "adapters.http").Int64("channel", ch).Int64("user", uid).Int64("by", int64(caller(c).ID)).Msg("member kicked")
	c.Status(http.StatusNoContent)
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

package api

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/spaquet/listopia-sub005/internal/auth"
	"github.com/spaquet/listopia-sub005/internal/broadcast"
	"github.com/spaquet/listopia-sub005/internal/commands"
	"github.com/spaquet/listopia-sub005/internal/config"
	"github.com/spaquet/listopia-sub005/internal/models"
	"github.com/spaquet/listopia-sub005/internal/security"
	"github.com/spaquet/listopia-sub005/internal/service/assistant"
	"github.com/spaquet/listopia-sub005/internal/service/catalog"
	"github.com/spaquet/listopia-sub005/internal/worker"
)

const defaultProvider = "openai"

// Server wires the HTTP surface: auth, conversations, message submission,
// list browsing, provider keys, and the websocket endpoint.
type Server struct {
	cfg      *config.Config
	store    *assistant.Service
	auth     *auth.Service
	gateway  *security.Gateway
	commands *commands.Router
	catalog  *catalog.Service
	manager  *worker.Manager
	hub      *broadcast.Hub
	wsAuth   broadcast.Authorizer
}

func NewServer(
	cfg *config.Config,
	store *assistant.Service,
	authSvc *auth.Service,
	gateway *security.Gateway,
	cmdRouter *commands.Router,
	cat *catalog.Service,
	manager *worker.Manager,
	hub *broadcast.Hub,
	wsAuth broadcast.Authorizer,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		auth:     authSvc,
		gateway:  gateway,
		commands: cmdRouter,
		catalog:  cat,
		manager:  manager,
		hub:      hub,
		wsAuth:   wsAuth,
	}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	r := gin.Default()
	r.Use(s.auth.CSRFMiddleware())

	r.POST("/api/register", s.register)
	r.POST("/api/login", s.login)

	authed := r.Group("/", s.auth.Middleware())
	{
		authed.POST("/api/logout", s.logout)
		authed.DELETE("/api/user", s.deleteUser)

		authed.GET("/api/keys", s.listKeys)
		authed.PUT("/api/keys/:provider", s.setKey)
		authed.DELETE("/api/keys/:provider", s.deleteKey)

		authed.GET("/api/conversations", s.listConversations)
		authed.POST("/api/conversations", s.createConversation)
		authed.GET("/api/conversations/:id", s.getConversation)
		authed.DELETE("/api/conversations/:id", s.deleteConversation)
		authed.POST("/api/conversations/:id/archive", s.archiveConversation)
		authed.POST("/api/conversations/:id/messages", s.submitMessage)
		authed.POST("/api/messages", s.submitMessageAuto)

		authed.GET("/api/lists", s.listLists)
		authed.GET("/api/lists/:id/items", s.listItems)

		authed.GET("/ws", s.serveWS)
	}
	return r
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	user, err := s.store.RegisterUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (s *Server) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	user, err := s.store.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	token, err := s.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	csrf, err := s.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	maxAge := int(s.auth.TokenTTL() / time.Second)
	c.SetCookie(s.auth.AuthCookieName(), token, maxAge, "/", "", false, true)
	c.SetCookie(s.auth.CSRFCookieName(), csrf, maxAge, "/", "", false, false)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func (s *Server) logout(c *gin.Context) {
	if token, ok := auth.AuthTokenFromContext(c); ok {
		if err := s.auth.RevokeToken(c.Request.Context(), token); err != nil {
			log.Printf("api: revoke token: %v", err)
		}
	}
	c.SetCookie(s.auth.AuthCookieName(), "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (s *Server) deleteUser(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	if err := s.auth.RevokeUserTokens(c.Request.Context(), userID); err != nil {
		log.Printf("api: revoke tokens for user %d: %v", userID, err)
	}
	if err := s.store.DeleteUser(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type keyRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

func (s *Server) setKey(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}
	if err := s.store.SetProviderKey(c.Request.Context(), userID, c.Param("provider"), req.APIKey); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}

func (s *Server) listKeys(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	providers, err := s.store.ListProviderKeys(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list keys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

func (s *Server) deleteKey(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	err := s.store.DeleteProviderKey(c.Request.Context(), userID, c.Param("provider"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no key for that provider"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type createConversationRequest struct {
	Title string `json:"title"`
	OrgID int64  `json:"org_id"`
}

func (s *Server) createConversation(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	var req createConversationRequest
	// Body is optional; an empty request makes an untitled conversation.
	_ = c.ShouldBindJSON(&req)
	conv, err := s.store.CreateConversation(c.Request.Context(), userID, req.OrgID, req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

func (s *Server) listConversations(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	convs, err := s.store.ListConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) getConversation(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	conv, msgs, err := s.store.GetConversationWithMessages(c.Request.Context(), userID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": msgs})
}

func (s *Server) deleteConversation(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	err := s.store.DeleteConversation(c.Request.Context(), userID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) archiveConversation(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	err := s.store.ArchiveConversation(c.Request.Context(), userID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not archive conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "archived"})
}

type submitMessageRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content" binding:"required"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
}

// submitMessage is the inbound pipeline's synchronous half: screen, persist,
// moderate, then route to either the command router or the agent queue.
func (s *Server) submitMessage(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req submitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	conv, err := s.store.GetConversation(c.Request.Context(), userID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load conversation"})
		return
	}
	s.runInbound(c, userID, conv, req)
}

// submitMessageAuto accepts the conversation id in the body; omitting it
// starts a fresh conversation for the message.
func (s *Server) submitMessageAuto(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	var req submitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	ctx := c.Request.Context()
	var conv *models.Conversation
	var err error
	if req.ConversationID > 0 {
		conv, err = s.store.GetConversation(ctx, userID, req.ConversationID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
	} else {
		conv, err = s.store.CreateConversation(ctx, userID, 0, "")
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load conversation"})
		return
	}
	s.runInbound(c, userID, conv, req)
}

func (s *Server) runInbound(c *gin.Context, userID int64, conv *models.Conversation, req submitMessageRequest) {
	if req.Provider == "" {
		req.Provider = defaultProvider
	}

	ctx := c.Request.Context()
	if conv.Status != models.ConversationActive {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is " + string(conv.Status)})
		return
	}

	screen := security.ScreenRequest{
		UserID:         userID,
		OrgID:          conv.OrgID,
		ConversationID: conv.ID,
		FocusListID:    conv.FocusListID,
		Text:           req.Content,
	}

	// High-risk injection attempts are refused before anything is stored.
	if verdict := s.gateway.ScreenInjection(ctx, screen); verdict.Rejected {
		c.JSON(http.StatusOK, gin.H{
			"blocked": true,
			"content": security.PolicyRejection,
		})
		return
	}

	msg, err := s.store.AddMessage(ctx, models.Message{
		UserID:         userID,
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        req.Content,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store message"})
		return
	}

	if verdict := s.gateway.ScreenContent(ctx, screen, msg); verdict.Blocked {
		c.JSON(http.StatusOK, gin.H{
			"blocked":  true,
			"archived": verdict.Archived,
			"content":  security.PolicyRejection,
		})
		return
	}

	// Slash commands render synchronously; no model involved.
	if cmd, isCmd := commands.Parse(req.Content); isCmd {
		resp := s.commands.Execute(ctx, userID, conv.ID, cmd)
		reply, err := s.store.AddMessage(ctx, models.Message{
			UserID:         userID,
			ConversationID: conv.ID,
			Role:           models.RoleAssistant,
			Content:        resp.Content,
			Template:       resp.Template,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store response"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"conversation_id": conv.ID,
			"message_id":      reply.ID,
			"response":        resp,
		})
		return
	}

	err = s.manager.Submit(worker.Job{
		MessageID:      msg.ID,
		UserID:         userID,
		OrgID:          conv.OrgID,
		ConversationID: conv.ID,
		Provider:       req.Provider,
		Model:          req.Model,
	})
	switch {
	case errors.Is(err, worker.ErrBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "busy, try again shortly"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not queue message"})
	default:
		c.JSON(http.StatusAccepted, gin.H{
			"conversation_id": conv.ID,
			"message_id":      msg.ID,
			"status":          "pending",
		})
	}
}

func (s *Server) listLists(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	lists, err := s.catalog.ListLists(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list lists"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lists": lists})
}

func (s *Server) listItems(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	listID, ok := pathID(c, "id")
	if !ok {
		return
	}
	items, err := s.catalog.ListItems(c.Request.Context(), userID, listID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "list not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) serveWS(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	if err := broadcast.ServeWS(s.hub, s.wsAuth, userID, c.Writer, c.Request); err != nil {
		log.Printf("api: websocket upgrade: %v", err)
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

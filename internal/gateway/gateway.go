package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aomi-labs/delta-rfq-arena/internal/auth"
	"github.com/aomi-labs/delta-rfq-arena/internal/compiler"
	"github.com/aomi-labs/delta-rfq-arena/internal/guardrail"
	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

// Gateway is the HTTP surface of the guardrail engine.
type Gateway struct {
	router   *gin.Engine
	registry *guardrail.Registry
	compiler compiler.Compiler
	auth     *auth.Service
	logger   *zap.Logger

	wsClients   map[uuid.UUID]*WSClient
	wsMu        sync.RWMutex
	rateLimiter *RateLimiter

	nonce   uint64
	nonceMu sync.Mutex
}

// WSClient represents a WebSocket subscriber
type WSClient struct {
	ID   uuid.UUID
	Conn *websocket.Conn

	Send chan []byte
	Done chan struct{}
}

// RateLimiter implements rate limiting
type RateLimiter struct {
	requests map[string][]time.Time

	mu     sync.Mutex
	limit  int
	window time.Duration
}

// Config holds gateway configuration
type Config struct {
	Port            string
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// NewGateway creates a new gateway
func NewGateway(cfg Config, registry *guardrail.Registry, comp compiler.Compiler, authSvc *auth.Service, logger *zap.Logger) *Gateway {
	g := &Gateway{
		router:    gin.Default(),
		registry:  registry,
		compiler:  comp,
		auth:      authSvc,
		logger:    logger,
		wsClients: make(map[uuid.UUID]*WSClient),
		rateLimiter: &RateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())
	g.router.Use(g.tracingMiddleware())

	// Health check
	g.router.GET("/health", g.healthCheck)

	g.router.POST("/quotes", g.createQuote)
	g.router.GET("/quotes", g.listQuotes)
	g.router.GET("/quotes/:id", g.getQuote)
	g.router.DELETE("/quotes/:id", g.authMiddleware(), g.cancelQuote)
	g.router.POST("/quotes/:id/fill", g.attemptFill)
	g.router.GET("/quotes/:id/receipts", g.listReceipts)

	// WebSocket
	g.router.GET("/ws", g.handleWebSocket)
}

// Start starts the gateway
func (g *Gateway) Start(addr string) error {
	return g.router.Run(addr)
}

// Handler exposes the router for embedding in an http.Server.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Middleware

// authMiddleware admits only the maker token minted for the quote in the
// request path.
func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid quote ID"})
			return
		}

		claims, err := g.auth.VerifyQuoteToken(token, id)
		switch {
		case errors.Is(err, auth.ErrWrongQuote):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not cover this quote"})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("maker", claims.Maker)
		c.Next()
	}
}

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !g.rateLimiter.Allow(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// Handlers

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// CreateQuoteRequest accepts either free text for the rule compiler or a
// fully structured spec+policy.
type CreateQuoteRequest struct {
	Maker      string         `json:"maker" binding:"required"`
	MakerShard uint64         `json:"maker_shard"`
	Text       string         `json:"text,omitempty"`
	Spec       *rfq.QuoteSpec `json:"spec,omitempty"`
	ExpiresAt  time.Time      `json:"expires_at,omitempty"`
	Policy     *rfq.Policy    `json:"policy,omitempty"`
}

type CreateQuoteResponse struct {
	QuoteID    uuid.UUID `json:"quote_id"`
	Status     string    `json:"status"`
	Summary    string    `json:"summary"`
	MakerToken string    `json:"maker_token"`
}

func (g *Gateway) createQuote(c *gin.Context) {
	var req CreateQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	quote, policy, err := g.buildQuote(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := g.registry.CreateQuote(c.Request.Context(), quote, policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := g.auth.IssueMakerToken(quote.Maker, quote.ID)
	if err != nil {
		g.logger.Error("maker token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue maker token"})
		return
	}

	c.JSON(http.StatusCreated, CreateQuoteResponse{
		QuoteID:    quote.ID,
		Status:     string(rfq.StatusActive),
		Summary:    compiler.Summarize(policy),
		MakerToken: token,
	})
}

func (g *Gateway) buildQuote(req *CreateQuoteRequest) (*rfq.Quote, *rfq.Policy, error) {
	if req.Text != "" {
		quote, policy, err := g.compiler.Compile(req.Text, g.nextNonce())
		if err != nil {
			return nil, nil, err
		}
		quote.Maker = req.Maker
		quote.MakerShard = req.MakerShard
		return quote, policy, nil
	}

	if req.Spec == nil || req.Policy == nil {
		return nil, nil, errors.New("either text or spec+policy is required")
	}

	now := time.Now()
	quote := &rfq.Quote{
		ID:         uuid.New(),
		Spec:       *req.Spec,
		Status:     rfq.StatusActive,
		CreatedAt:  now,
		ExpiresAt:  req.ExpiresAt,
		Maker:      req.Maker,
		MakerShard: req.MakerShard,
	}
	if quote.ExpiresAt.IsZero() {
		quote.ExpiresAt = req.Policy.ExpiresAt
	}

	policy := *req.Policy
	policy.QuoteID = quote.ID
	if policy.Nonce == 0 {
		policy.Nonce = g.nextNonce()
	}
	return quote, &policy, nil
}

func (g *Gateway) nextNonce() uint64 {
	g.nonceMu.Lock()
	defer g.nonceMu.Unlock()
	g.nonce++
	return g.nonce
}

func (g *Gateway) listQuotes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"quotes": g.registry.ListQuotes()})
}

func (g *Gateway) getQuote(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quote ID"})
		return
	}

	view, err := g.registry.GetQuote(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "quote not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (g *Gateway) cancelQuote(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quote ID"})
		return
	}

	maker := c.MustGet("maker").(string)

	reason, err := g.registry.CancelQuote(c.Request.Context(), id, maker)
	switch {
	case errors.Is(err, guardrail.ErrQuoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "quote not found"})
		return
	case errors.Is(err, guardrail.ErrNotMaker):
		c.JSON(http.StatusForbidden, gin.H{"error": "caller is not the maker"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel quote"})
		return
	}

	if reason != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":  reason.Message(),
			"reason": reason,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(rfq.StatusCancelled)})
}

func (g *Gateway) attemptFill(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quote ID"})
		return
	}

	var req rfq.FillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	receipt, err := g.registry.AttemptFill(c.Request.Context(), id, &req)
	switch {
	case errors.Is(err, guardrail.ErrQuoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "quote not found"})
		return
	case err != nil:
		// Malformed attempts are caller errors, not rejections.
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	g.broadcastReceipt(receipt)

	status := http.StatusOK
	if !receipt.IsAccepted() {
		status = http.StatusConflict
	}
	c.JSON(status, receipt)
}

func (g *Gateway) listReceipts(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quote ID"})
		return
	}

	receipts, err := g.registry.Receipts(c.Request.Context(), id)
	if errors.Is(err, guardrail.ErrQuoteNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "quote not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load receipts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": receipts})
}

// WebSocket handling

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &WSClient{
		ID:   uuid.New(),
		Conn: conn,

		Send: make(chan []byte, 16),
		Done: make(chan struct{}),
	}

	g.wsMu.Lock()
	g.wsClients[client.ID] = client
	g.wsMu.Unlock()

	go g.wsReadPump(client)
	go g.wsWritePump(client)
}

func (g *Gateway) wsReadPump(client *WSClient) {
	defer func() {
		g.wsMu.Lock()
		delete(g.wsClients, client.ID)
		g.wsMu.Unlock()
		close(client.Done)
		client.Conn.Close()
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) wsWritePump(client *WSClient) {
	for {
		select {
		case message := <-client.Send:
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.Done:
			return
		}
	}
}

func (g *Gateway) broadcastReceipt(receipt *rfq.Receipt) {
	payload, err := receiptFrame(receipt)
	if err != nil {
		g.logger.Warn("receipt frame encode failed", zap.Error(err))
		return
	}

	g.wsMu.RLock()
	defer g.wsMu.RUnlock()

	for _, client := range g.wsClients {
		select {
		case client.Send <- payload:
		default:
			// Slow subscriber; drop the frame rather than block adjudication.
		}
	}
}

// Allow checks if a request is allowed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	requests := rl.requests[key]
	valid := make([]time.Time, 0)
	for _, t := range requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}

// receiptFrame is the wire form pushed to WebSocket subscribers.
func receiptFrame(receipt *rfq.Receipt) ([]byte, error) {
	return json.Marshal(gin.H{
		"type":    "receipt",
		"receipt": receipt.Summary(),
	})
}

package lobbyapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/truco/pkg/mesas"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	contextKeyClaims   = "auth_claims"
	contextKeyIdentity = "lobby_identity"
	headerRequestID    = "X-Request-ID"
)

// Registry is the table registry consumed by the HTTP handlers.
type Registry interface {
	List(ctx context.Context) []mesas.Table
	Create(ctx context.Context, request mesas.CreateTableRequest) (mesas.Table, error)
	Join(ctx context.Context, tableID mesas.TableID, identity mesas.Identity, seatIndex mesas.SeatIndex) error
	Leave(ctx context.Context, playerID mesas.PlayerID) error
	Delete(ctx context.Context, tableID mesas.TableID, requester mesas.PlayerID) error
	FindPlayerTable(ctx context.Context, playerID mesas.PlayerID) (mesas.TableID, bool, error)
	IsFull(ctx context.Context, tableID mesas.TableID) (bool, error)
}

// ListCache fronts Registry.List. Invalidate is called after every successful mutation.
type ListCache interface {
	Tables(ctx context.Context, load func(ctx context.Context) []mesas.Table) []mesas.Table
	Invalidate(ctx context.Context)
}

// Run boots the HTTP façade using the supplied configuration.
func Run(ctx context.Context, cfg Config, registry Registry, cache ListCache, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	bearerVerifier, err := NewBearerVerifier([]byte(cfg.SessionSigningKey), cfg.SessionIssuer)
	if err != nil {
		return err
	}

	handler := newHTTPHandler(cfg, registry, cache, logger)
	router := setupRouter(cfg, handler, authMiddleware(bearerVerifier, sessionValidator.GinMiddleware(contextKeyClaims)))

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		handler.logger.Info("lobby api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			handler.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, auth gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(handler.logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		ExposeHeaders:    []string{headerRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(auth)

	api.GET("/session", handler.handleSession)
	api.GET("/mesas", handler.handleList)
	api.GET("/mesas/mine", handler.handleMine)
	api.POST("/mesas", handler.handleCreate)
	api.POST("/mesas/leave", handler.handleLeave)
	api.POST("/mesas/:id/join", handler.handleJoin)
	api.GET("/mesas/:id/full", handler.handleFull)
	api.DELETE("/mesas/:id", handler.handleDelete)

	return router
}

// authMiddleware accepts a bearer token when one is present and falls back to
// the session cookie validator otherwise.
func authMiddleware(verifier *BearerVerifier, session gin.HandlerFunc) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, ok := bearerToken(ctx.GetHeader("Authorization"))
		if !ok {
			session(ctx)
			return
		}
		identity, err := verifier.Verify(token)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("not_authenticated", "invalid bearer token"))
			return
		}
		ctx.Set(contextKeyIdentity, identity)
		ctx.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		requestID := ctx.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Header(headerRequestID, requestID)
		ctx.Next()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if ctx.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("http request", fields...)
			return
		}
		logger.Info("http request", fields...)
	}
}

type httpHandler struct {
	logger   *zap.Logger
	registry Registry
	cache    ListCache
	cfg      Config
}

func newHTTPHandler(cfg Config, registry Registry, cache ListCache, logger *zap.Logger) *httpHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &httpHandler{logger: logger, registry: registry, cache: cache, cfg: cfg}
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	identity, ok := requireIdentity(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"player_id": identity.PlayerID.String(),
		"name":      identity.Player().Name,
		"photo":     identity.PhotoURL,
	})
}

func (handler *httpHandler) handleList(ctx *gin.Context) {
	if _, ok := requireIdentity(ctx); !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	var tables []mesas.Table
	if handler.cache != nil {
		tables = handler.cache.Tables(requestCtx, handler.registry.List)
	} else {
		tables = handler.registry.List(requestCtx)
	}
	payload := make([]tablePayload, 0, len(tables))
	for _, table := range tables {
		payload = append(payload, newTablePayload(table))
	}
	ctx.JSON(http.StatusOK, gin.H{"mesas": payload})
}

func (handler *httpHandler) handleMine(ctx *gin.Context) {
	identity, ok := requireIdentity(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	tableID, seated, err := handler.registry.FindPlayerTable(requestCtx, identity.PlayerID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	if !seated {
		ctx.JSON(http.StatusOK, gin.H{"mesa_id": nil})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"mesa_id": tableID.String()})
}

func (handler *httpHandler) handleCreate(ctx *gin.Context) {
	identity, ok := requireIdentity(ctx)
	if !ok {
		return
	}
	var request createRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with puntos and apuesta"))
		return
	}
	createTableRequest := mesas.CreateTableRequest{
		PointsTarget: mesas.PointsTarget(request.Puntos),
		BetAmount:    mesas.BetAmount(request.Apuesta),
		Creator:      identity,
	}
	if request.ID != "" {
		tableID, err := mesas.NewTableID(request.ID)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		createTableRequest.TableID = tableID
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	table, err := handler.registry.Create(requestCtx, createTableRequest)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	handler.invalidate(requestCtx)
	ctx.JSON(http.StatusCreated, gin.H{"mesa": newTablePayload(table)})
}

func (handler *httpHandler) handleJoin(ctx *gin.Context) {
	identity, ok := requireIdentity(ctx)
	if !ok {
		return
	}
	tableID, err := mesas.NewTableID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	var request joinRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.Posicion == nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with posicion"))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	if err := handler.registry.Join(requestCtx, tableID, identity, mesas.SeatIndex(*request.Posicion)); err != nil {
		handler.writeError(ctx, err)
		return
	}
	handler.invalidate(requestCtx)
	ctx.JSON(http.StatusOK, gin.H{"mesa_id": tableID.String(), "posicion": *request.Posicion})
}

func (handler *httpHandler) handleLeave(ctx *gin.Context) {
	identity, ok := requireIdentity(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	if err := handler.registry.Leave(requestCtx, identity.PlayerID); err != nil {
		handler.writeError(ctx, err)
		return
	}
	handler.invalidate(requestCtx)
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleDelete(ctx *gin.Context) {
	identity, ok := requireIdentity(ctx)
	if !ok {
		return
	}
	tableID, err := mesas.NewTableID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	if err := handler.registry.Delete(requestCtx, tableID, identity.PlayerID); err != nil {
		handler.writeError(ctx, err)
		return
	}
	handler.invalidate(requestCtx)
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleFull(ctx *gin.Context) {
	if _, ok := requireIdentity(ctx); !ok {
		return
	}
	tableID, err := mesas.NewTableID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	full, err := handler.registry.IsFull(requestCtx, tableID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"mesa_id": tableID.String(), "full": full})
}

func (handler *httpHandler) invalidate(ctx context.Context) {
	if handler.cache != nil {
		handler.cache.Invalidate(ctx)
	}
}

func (handler *httpHandler) writeError(ctx *gin.Context, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("registry request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(status, errorResponse(code, "the lobby is temporarily unavailable"))
		return
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, mesas.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, mesas.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, mesas.ErrTableNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, mesas.ErrAlreadySeated):
		return http.StatusConflict, "already_seated"
	case errors.Is(err, mesas.ErrSeatTaken):
		return http.StatusConflict, "seat_taken"
	case errors.Is(err, mesas.ErrTableExists):
		return http.StatusConflict, "table_exists"
	case errors.Is(err, mesas.ErrInvalidTableID),
		errors.Is(err, mesas.ErrInvalidPlayerID),
		errors.Is(err, mesas.ErrInvalidPointsTarget),
		errors.Is(err, mesas.ErrInvalidBetAmount),
		errors.Is(err, mesas.ErrInvalidSeatIndex):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, mesas.ErrCreateFailed):
		return http.StatusServiceUnavailable, "create_failed"
	default:
		return http.StatusServiceUnavailable, "store_unavailable"
	}
}

// requireIdentity resolves the caller from a verified bearer token or the
// session claims and writes 401 when neither is present.
func requireIdentity(ctx *gin.Context) (mesas.Identity, bool) {
	if value, ok := ctx.Get(contextKeyIdentity); ok {
		if identity, ok := value.(mesas.Identity); ok && identity.Authenticated() {
			return identity, true
		}
	}
	if claims := getClaims(ctx); claims != nil {
		identity, err := mesas.NewIdentity(claims.GetUserID(), claims.GetUserDisplayName(), claims.GetUserAvatarURL())
		if err == nil {
			return identity, true
		}
	}
	ctx.JSON(http.StatusUnauthorized, errorResponse("not_authenticated", "missing session"))
	return mesas.Identity{}, false
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(contextKeyClaims)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type createRequest struct {
	ID      string `json:"id"`
	Puntos  int    `json:"puntos"`
	Apuesta int64  `json:"apuesta"`
}

type joinRequest struct {
	Posicion *int `json:"posicion"`
}

type seatPayload struct {
	Posicion  int    `json:"posicion"`
	JugadorID string `json:"jugador_id"`
	Name      string `json:"name"`
	Photo     string `json:"photo"`
}

type tablePayload struct {
	ID        string        `json:"id"`
	Puntos    int           `json:"puntos"`
	Apuesta   int64         `json:"apuesta"`
	CreadorID string        `json:"creador_id"`
	Estado    string        `json:"estado"`
	Capacidad int           `json:"capacidad"`
	Llena     bool          `json:"llena"`
	CreatedAt time.Time     `json:"created_at"`
	Jugadores []seatPayload `json:"jugadores"`
}

func newTablePayload(table mesas.Table) tablePayload {
	seats := make([]seatPayload, 0, len(table.Seats))
	for _, seat := range table.Seats {
		seats = append(seats, seatPayload{
			Posicion:  seat.SeatIndex.Int(),
			JugadorID: seat.Player.ID.String(),
			Name:      seat.Player.Name,
			Photo:     seat.Player.Photo,
		})
	}
	return tablePayload{
		ID:        table.ID.String(),
		Puntos:    table.PointsTarget.Int(),
		Apuesta:   table.BetAmount.Int64(),
		CreadorID: table.CreatorID.String(),
		Estado:    table.Status.String(),
		Capacidad: table.PointsTarget.Capacity(),
		Llena:     table.Full(),
		CreatedAt: table.CreatedAt,
		Jugadores: seats,
	}
}


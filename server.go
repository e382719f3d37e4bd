package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/evmtools/abiget/etherscan"
	"github.com/evmtools/abiget/proxy"
)

// server exposes ABI lookups over HTTP. When rpcURL is set, proxy contracts
// are resolved to their implementation before the ABI lookup.
type server struct {
	client *etherscan.Client
	rpcURL string
	logger *zap.Logger
}

func newServer(client *etherscan.Client, rpcURL string, logger *zap.Logger) *server {
	return &server{client: client, rpcURL: rpcURL, logger: logger}
}

func (s *server) router() *gin.Engine {
	router := gin.Default()

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	router.Use(cors.New(config))

	router.GET("/abi/:address", s.handleABI)
	router.GET("/events/:address", s.handleEvents)

	return router
}

func (s *server) handleABI(c *gin.Context) {
	address := c.Param("address")

	target, proxyInfo := s.resolveTarget(c.Request.Context(), address)

	abi, err := s.client.RawABI(c.Request.Context(), target)
	if err != nil {
		s.renderError(c, err)
		return
	}

	var implementation interface{}
	if proxyInfo != nil {
		implementation = target
	}
	c.JSON(http.StatusOK, gin.H{
		"abi":            abi,
		"implementation": implementation,
		"isProxy":        proxyInfo != nil,
	})
}

func (s *server) handleEvents(c *gin.Context) {
	address := c.Param("address")

	doc, err := s.client.GetABI(c.Request.Context(), address)
	if err != nil {
		s.renderError(c, err)
		return
	}

	events := make([]gin.H, 0)
	for _, ev := range doc.Events() {
		events = append(events, gin.H{
			"name":      ev.Name,
			"signature": ev.Signature(),
			"topic0":    ev.ID().Hex(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// resolveTarget follows a proxy to its implementation when an RPC endpoint
// is configured. Detection failures fall back to the requested address; the
// ABI lookup itself reports anything genuinely wrong with it.
func (s *server) resolveTarget(ctx context.Context, address string) (string, *proxy.Info) {
	if s.rpcURL == "" || !common.IsHexAddress(address) {
		return address, nil
	}

	client, err := ethclient.Dial(s.rpcURL)
	if err != nil {
		s.logger.Sugar().Warnw("Failed to connect to the RPC endpoint, skipping proxy detection",
			zap.Error(err),
			zap.String("rpcURL", s.rpcURL),
		)
		return address, nil
	}
	defer client.Close()

	info, err := proxy.Detect(ctx, client, common.HexToAddress(address))
	if err != nil || info.Target == (common.Address{}) {
		return address, nil
	}
	return info.Target.Hex(), info
}

func (s *server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case etherscan.IsInvalidAddress(err):
		status = http.StatusBadRequest
	case etherscan.IsNotFound(err):
		status = http.StatusNotFound
	default:
		var reqErr *etherscan.RequestError
		var apiErr *etherscan.APIError
		if errors.As(err, &reqErr) || errors.As(err, &apiErr) {
			status = http.StatusBadGateway
		}
	}

	s.logger.Sugar().Errorw("ABI lookup failed",
		zap.Error(err),
		zap.String("address", c.Param("address")),
		zap.Int("status", status),
	)
	c.JSON(status, gin.H{"error": err.Error()})
}

package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leasepay/internal/clock"
	"github.com/smallbiznis/leasepay/internal/config"
	"github.com/smallbiznis/leasepay/internal/logger"
	"github.com/smallbiznis/leasepay/internal/migration"
	obsmetrics "github.com/smallbiznis/leasepay/internal/observability/metrics"
	"github.com/smallbiznis/leasepay/internal/server"
	"github.com/smallbiznis/leasepay/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		obsmetrics.Module,

		// HTTP surface plus the settlement domain modules it pulls in
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			nodeID = parsed
		}
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		panic(err)
	}
	return node
}

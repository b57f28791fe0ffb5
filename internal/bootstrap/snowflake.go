package bootstrap

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/subhub/internal/config"
)

// NewSnowflakeNode builds the id generator. Replicas must run with distinct SNOWFLAKE_NODE values.
func NewSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}

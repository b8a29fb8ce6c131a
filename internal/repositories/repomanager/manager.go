package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/adpipe/internal/dbx"
	"github.com/dmitrijs2005/adpipe/internal/repositories/adsetlinks"
	"github.com/dmitrijs2005/adpipe/internal/repositories/adsetpool"
	"github.com/dmitrijs2005/adpipe/internal/repositories/creatives"
	"github.com/dmitrijs2005/adpipe/internal/repositories/directions"
	"github.com/dmitrijs2005/adpipe/internal/repositories/mappings"
	"github.com/dmitrijs2005/adpipe/internal/repositories/settings"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Directions(db dbx.DBTX) directions.Repository
	Creatives(db dbx.DBTX) creatives.Repository
	Settings(db dbx.DBTX) settings.Repository
	Mappings(db dbx.DBTX) mappings.Repository
	AdSetLinks(db dbx.DBTX) adsetlinks.Repository
	AdSetPool(db dbx.DBTX) adsetpool.Repository
}

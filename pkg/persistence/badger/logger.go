package badger

import (
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// dbLog routes badger's printf-style internal logging into the store's zap
// logger, keeping one log stream per process.
type dbLog struct {
	log *zap.Logger
}

var _ badgerdb.Logger = (*dbLog)(nil)

func (d *dbLog) Errorf(format string, args ...interface{}) {
	d.log.Error(fmt.Sprintf(format, args...))
}

func (d *dbLog) Warningf(format string, args ...interface{}) {
	d.log.Warn(fmt.Sprintf(format, args...))
}

func (d *dbLog) Infof(format string, args ...interface{}) {
	d.log.Info(fmt.Sprintf(format, args...))
}

func (d *dbLog) Debugf(format string, args ...interface{}) {
	d.log.Debug(fmt.Sprintf(format, args...))
}

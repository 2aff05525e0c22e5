package recorder

import (
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stleox/apmtrace/pkg/config"
	"github.com/stleox/apmtrace/pkg/tracer"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Olap flattens fragments into t_fragment_node, one row per node.
type Olap struct {
	conn     sqlx.SqlConn
	inserter *sqlx.BulkInserter
}

// FragmentNodeRow is one row of t_fragment_node.
type FragmentNodeRow struct {
	TraceID        string `db:"trace_id"`
	FragmentID     string `db:"fragment_id"`
	Position       string `db:"position"` // 节点在 fragment 内的位置，如 "0:1"
	Type           string `db:"type"`
	Operation      string `db:"operation"`
	URI            string `db:"uri"`
	Time           string `db:"time"`
	DurationUs     int64  `db:"duration_us"`
	ComponentType  string `db:"component_type"`
	EndpointType   string `db:"endpoint_type"`
	CorrelationIDs string `db:"correlation_ids"` // JSON
	Properties     string `db:"properties"`      // JSON
}

func CreateFragmentTable(db sqlx.SqlConn) error {
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS `t_fragment_node` " +
		"(trace_id VARCHAR(63), " +
		"fragment_id VARCHAR(63), " +
		"position VARCHAR(255), " +
		"type VARCHAR(15), " +
		"operation VARCHAR(255), " +
		"uri VARCHAR(1023), " +
		"time DATETIME(6), " +
		"duration_us BIGINT, " +
		"component_type VARCHAR(63), " +
		"endpoint_type VARCHAR(63), " +
		"correlation_ids STRING, " +
		"properties STRING) " +
		"DISTRIBUTED BY HASH(trace_id) BUCKETS 32 " +
		"PROPERTIES (\"replication_num\" = \"1\");")
	return err
}

func NewFragmentInserter(db sqlx.SqlConn) (*sqlx.BulkInserter, error) {
	return sqlx.NewBulkInserter(db, "INSERT INTO `t_fragment_node` "+
		"(trace_id, "+
		"fragment_id, "+
		"position, "+
		"type, "+
		"operation, "+
		"uri, "+
		"time, "+
		"duration_us, "+
		"component_type, "+
		"endpoint_type, "+
		"correlation_ids, "+
		"properties) "+
		"VALUES (?,?,?,?,?,?,?,?,?,?,?,?)")
}

func NewOlap(dsn string) (*Olap, error) {
	return newOlap(sqlx.NewMysql(dsn))
}

func newOlap(db sqlx.SqlConn) (*Olap, error) {
	if err := CreateFragmentTable(db); err != nil {
		logrus.WithError(err).Error("apmtrace couldn't create table t_fragment_node")
		return nil, err
	}
	inserter, err := NewFragmentInserter(db)
	if err != nil {
		logrus.WithError(err).Error("apmtrace couldn't open table t_fragment_node")
		return nil, err
	}
	return &Olap{conn: db, inserter: inserter}, nil
}

func (o *Olap) Record(root *tracer.Span) {
	for _, row := range FlattenFragment(root.Fragment()) {
		err := o.inserter.Insert(
			row.TraceID,
			row.FragmentID,
			row.Position,
			row.Type,
			row.Operation,
			row.URI,
			row.Time,
			row.DurationUs,
			row.ComponentType,
			row.EndpointType,
			row.CorrelationIDs,
			row.Properties)
		if err != nil {
			logrus.WithError(err).Warn("apmtrace couldn't insert into t_fragment_node")
		}
	}
}

// Close flushes the pending rows.
func (o *Olap) Close() error {
	o.inserter.Flush()
	return nil
}

// FlattenFragment lists the nodes of f in pre-order.
func FlattenFragment(f *tracer.Fragment) []*FragmentNodeRow {
	type item struct {
		pos  string
		node *tracer.FragmentNode
	}
	rows := make([]*FragmentNodeRow, 0)
	stack := make([]item, 0, len(f.Nodes))
	for i := len(f.Nodes) - 1; i >= 0; i-- {
		stack = append(stack, item{strconv.Itoa(i), f.Nodes[i]})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		rows = append(rows, newRow(f, it.pos, it.node))
		for i := len(it.node.Nodes) - 1; i >= 0; i-- {
			stack = append(stack, item{it.pos + ":" + strconv.Itoa(i), it.node.Nodes[i]})
		}
	}
	return rows
}

func newRow(f *tracer.Fragment, pos string, n *tracer.FragmentNode) *FragmentNodeRow {
	return &FragmentNodeRow{
		TraceID:        f.TraceID,
		FragmentID:     f.FragmentID,
		Position:       pos,
		Type:           string(n.Type),
		Operation:      n.Operation,
		URI:            n.URI,
		Time:           time.UnixMicro(n.Timestamp).UTC().Format(config.LayoutDate6),
		DurationUs:     n.Duration,
		ComponentType:  n.ComponentType,
		EndpointType:   n.EndpointType,
		CorrelationIDs: mustJSON(n.CorrelationIDs),
		Properties:     mustJSON(n.Properties),
	}
}

func mustJSON(v interface{}) string {
	s, err := json.MarshalToString(v)
	if err != nil {
		return "null"
	}
	return strings.TrimSpace(s)
}

package dataset

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	collectionStatutes      = "statutes"
	collectionProcedures    = "procedures"
	collectionJurisdictions = "jurisdictions"

	// defaultJurisdiction backs every lookup that matches nothing else, so
	// a caller always receives usable guidance.
	defaultJurisdiction = "California"
)

// Store is the local legal dataset backing the engine when the upstream
// lookup is unavailable. Documents live in a clover store; with an empty
// path the store is purely in-memory and reseeded on every start.
type Store struct {
	db     *clover.DB
	logger types.Logger
	config *types.DatasetConfig
	health types.HealthManager
	state  atomic.Value
}

func NewStore(ctx context.Context, logger types.Logger, config *types.DatasetConfig, health types.HealthManager) (types.DatasetManager, error) {
	var db *clover.DB
	var err error

	if config.Path == "" {
		db, err = clover.Open("", clover.InMemoryMode(true))
	} else {
		db, err = clover.Open(config.Path)
	}

	if err != nil {
		return nil, types.WrapError(err, "failed to open dataset store")
	}

	store := &Store{
		db:     db,
		logger: logger,
		config: config,
		health: health,
	}

	store.state.Store(StateStopped)
	return store, nil
}

func (s *Store) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	if err := s.seed(); err != nil {
		s.setState(StateStopped)
		return types.Errorf(types.ErrDatasetSeedFailed, "%v", err)
	}

	if s.health != nil {
		s.health.RegisterChecker("dataset", s.healthCheck)
	}

	s.logger.Info("Legal dataset started", zap.String("path", s.config.Path))
	return nil
}

func (s *Store) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		s.setState(StateStopped)
	}()

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close dataset store")
	}

	s.logger.Info("Legal dataset stopped gracefully")
	return nil
}

func (s *Store) IsRunning() bool {
	return s.getState() == StateRunning
}

// FallbackStatutes returns the seeded statutes for a jurisdiction. An
// unknown jurisdiction falls through to the default set rather than
// failing; the engine relies on always getting something back.
func (s *Store) FallbackStatutes(jurisdiction string) ([]types.Statute, error) {
	if !s.IsRunning() {
		return nil, types.ErrDatasetNotInitialized
	}

	docs, err := s.findByJurisdiction(collectionStatutes, jurisdiction)
	if err != nil {
		return nil, err
	}

	statutes := make([]types.Statute, 0, len(docs))
	for _, doc := range docs {
		var statute types.Statute
		if err := utils.UnmarshalConfig(doc, &statute); err != nil {
			return nil, types.WrapError(err, "failed to decode statute document")
		}
		if statute.Elements == nil {
			statute.Elements = []types.LegalElement{}
		}
		statutes = append(statutes, statute)
	}

	return statutes, nil
}

// FallbackProcedures returns the seeded procedural guidance for a
// jurisdiction, defaulting the same way FallbackStatutes does.
func (s *Store) FallbackProcedures(jurisdiction string) ([]types.ProceduralRule, error) {
	if !s.IsRunning() {
		return nil, types.ErrDatasetNotInitialized
	}

	docs, err := s.findByJurisdiction(collectionProcedures, jurisdiction)
	if err != nil {
		return nil, err
	}

	procedures := make([]types.ProceduralRule, 0, len(docs))
	for _, doc := range docs {
		var rule types.ProceduralRule
		if err := utils.UnmarshalConfig(doc, &rule); err != nil {
			return nil, types.WrapError(err, "failed to decode procedure document")
		}
		procedures = append(procedures, rule)
	}

	return procedures, nil
}

func (s *Store) Jurisdictions() ([]types.Jurisdiction, error) {
	if !s.IsRunning() {
		return nil, types.ErrDatasetNotInitialized
	}

	docs, err := s.readCollection(collectionJurisdictions, nil)
	if err != nil {
		return nil, err
	}

	jurisdictions := make([]types.Jurisdiction, 0, len(docs))
	for _, doc := range docs {
		var jurisdiction types.Jurisdiction
		if err := utils.UnmarshalConfig(doc, &jurisdiction); err != nil {
			return nil, types.WrapError(err, "failed to decode jurisdiction document")
		}
		jurisdictions = append(jurisdictions, jurisdiction)
	}

	return jurisdictions, nil
}

func (s *Store) findByJurisdiction(collection, jurisdiction string) ([]map[string]interface{}, error) {
	criteria := clover.Field("jurisdiction").Eq(jurisdiction)

	docs, err := s.readCollection(collection, criteria)
	if err != nil {
		return nil, err
	}

	if len(docs) == 0 && jurisdiction != defaultJurisdiction {
		return s.readCollection(collection, clover.Field("jurisdiction").Eq(defaultJurisdiction))
	}

	return docs, nil
}

func (s *Store) readCollection(collection string, criteria *clover.Criteria) ([]map[string]interface{}, error) {
	query := s.db.Query(collection)
	if criteria != nil {
		query = query.Where(criteria)
	}

	// cr_time preserves seed order across queries.
	query = query.Sort(clover.SortOption{Field: "cr_time", Direction: 1})

	cloverDocs, err := query.FindAll()
	if err != nil {
		return nil, types.Errorf(types.ErrDatasetQueryFailed, "collection %s: %v", collection, err)
	}

	results := make([]map[string]interface{}, 0, len(cloverDocs))
	for _, doc := range cloverDocs {
		docMap := make(map[string]interface{})
		if err := doc.Unmarshal(&docMap); err != nil {
			continue
		}

		delete(docMap, "_id")
		results = append(results, docMap)
	}

	return results, nil
}

func (s *Store) seed() error {
	statutes := make([]interface{}, 0, len(seedStatutes))
	for _, statute := range seedStatutes {
		statutes = append(statutes, statute)
	}
	if err := s.seedCollection(collectionStatutes, statutes); err != nil {
		return err
	}

	procedures := make([]interface{}, 0, len(seedProcedures))
	for _, procedure := range seedProcedures {
		procedures = append(procedures, procedure)
	}
	if err := s.seedCollection(collectionProcedures, procedures); err != nil {
		return err
	}

	jurisdictions := make([]interface{}, 0, len(seedJurisdictions))
	for _, jurisdiction := range seedJurisdictions {
		jurisdictions = append(jurisdictions, jurisdiction)
	}
	if err := s.seedCollection(collectionJurisdictions, jurisdictions); err != nil {
		return err
	}

	s.logger.Info("Legal dataset seeded",
		zap.Int("statutes", len(seedStatutes)),
		zap.Int("procedures", len(seedProcedures)),
		zap.Int("jurisdictions", len(seedJurisdictions)))

	return nil
}

func (s *Store) seedCollection(collection string, records []interface{}) error {
	exists, err := s.db.HasCollection(collection)
	if err != nil {
		return types.WrapError(err, "failed to check collection existence")
	}

	if exists {
		count, err := s.db.Query(collection).Count()
		if err != nil {
			return types.WrapError(err, "failed to count collection documents")
		}
		if count > 0 {
			return nil
		}
	} else {
		if err := s.db.CreateCollection(collection); err != nil {
			return types.WrapError(err, "failed to create collection")
		}
	}

	var docs []*clover.Document
	now := time.Now().UnixNano()

	for i, record := range records {
		dataMap := make(map[string]interface{})
		if err := utils.UnmarshalConfig(record, &dataMap); err != nil {
			return types.WrapError(err, "failed to encode seed record")
		}

		dataMap["internal_id"] = uuid.New().String()
		dataMap["cr_time"] = now + int64(i)
		dataMap["ch_time"] = now + int64(i)

		doc := clover.NewDocument()
		for key, value := range dataMap {
			doc.Set(key, value)
		}

		docs = append(docs, doc)
	}

	if err := s.db.Insert(collection, docs...); err != nil {
		return types.WrapError(err, "failed to insert seed documents")
	}

	return nil
}

func (s *Store) healthCheck(ctx context.Context) types.HealthCheck {
	status := types.StatusHealthy
	message := "dataset operational"

	details := make(map[string]interface{})
	for _, collection := range []string{collectionStatutes, collectionProcedures, collectionJurisdictions} {
		count, err := s.db.Query(collection).Count()
		if err != nil {
			status = types.StatusUnhealthy
			message = "dataset query failed"
			continue
		}
		details[collection] = count
	}

	if !s.IsRunning() {
		status = types.StatusUnhealthy
		message = "dataset not running"
	}

	return types.HealthCheck{
		Name:      "dataset",
		Status:    status,
		Message:   message,
		LastCheck: time.Now(),
		Details:   details,
	}
}

// State management helpers

func (s *Store) getState() State {
	return s.state.Load().(State)
}

func (s *Store) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Store) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

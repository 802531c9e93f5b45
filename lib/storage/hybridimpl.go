package storage

// hybridStoreImpl implements the Engine interface by pairing a
// log-structured and a tree-ordered backend. Every write goes to both;
// point reads prefer the log side (freshest data first), range scans the
// tree side (natively ordered). The read ordering is what gives Hybrid
// read-your-writes without cross-backend reconciliation.
type hybridStoreImpl struct {
	log  Engine
	tree Engine
}

func newHybridEngine(opts EngineOptions) (Engine, error) {
	log, err := newLogEngine(opts)
	if err != nil {
		return nil, err
	}
	tree, err := newTreeEngine(opts)
	if err != nil {
		return nil, err
	}
	return &hybridStoreImpl{log: log, tree: tree}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see storage.Engine)
// --------------------------------------------------------------------------

func (s *hybridStoreImpl) Set(key string, value []byte) error {
	if err := s.log.Set(key, value); err != nil {
		return err
	}
	return s.tree.Set(key, value)
}

func (s *hybridStoreImpl) Get(key string) ([]byte, bool, error) {
	value, ok, err := s.log.Get(key)
	if err != nil || ok {
		return value, ok, err
	}
	return s.tree.Get(key)
}

func (s *hybridStoreImpl) Delete(key string) error {
	if err := s.log.Delete(key); err != nil {
		return err
	}
	return s.tree.Delete(key)
}

func (s *hybridStoreImpl) Scan(start, end string) ([]Entry, error) {
	return s.tree.Scan(start, end)
}

func (s *hybridStoreImpl) Ascend(fn func(key string, value []byte) bool) error {
	return s.tree.Ascend(fn)
}

func (s *hybridStoreImpl) Flush() error {
	return s.log.Flush()
}

func (s *hybridStoreImpl) Compact() error {
	if err := s.log.Compact(); err != nil {
		return err
	}
	return s.tree.Compact()
}

func (s *hybridStoreImpl) Info() EngineInfo {
	li := s.log.Info()
	ti := s.tree.Info()
	return EngineInfo{
		Strategy:     Hybrid,
		Entries:      ti.Entries,
		Runs:         li.Runs,
		BufferBytes:  li.BufferBytes,
		BytesStored:  li.BytesStored + ti.BytesStored,
		BytesLogical: ti.BytesLogical,
		CacheHitRate: ti.CacheHitRate,
		AvgValueSize: ti.AvgValueSize,
	}
}

func (s *hybridStoreImpl) Close() error {
	if err := s.log.Close(); err != nil {
		return err
	}
	return s.tree.Close()
}

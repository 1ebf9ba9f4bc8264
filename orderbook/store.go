package orderbook

import (
	"sync"

	"densityflow/logger"
)

// Store holds one Book per instrument. Books are created up front from the
// configured instrument list; lookups after startup are read-only.
type Store struct {
	mu    sync.RWMutex
	books map[string]*Book
	log   *logger.Log
}

func NewStore(symbols []string) *Store {
	s := &Store{
		books: make(map[string]*Book, len(symbols)),
		log:   logger.GetLogger(),
	}
	for _, symbol := range symbols {
		s.books[symbol] = NewBook(symbol)
	}
	s.log.WithComponent("book_store").WithFields(logger.Fields{
		"instruments": len(symbols),
	}).Info("book store initialized")
	return s
}

func (s *Store) Get(symbol string) (*Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[symbol]
	return book, ok
}

func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]string, 0, len(s.books))
	for symbol := range s.books {
		symbols = append(symbols, symbol)
	}
	return symbols
}

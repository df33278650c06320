package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc executes one job. The returned value is stored as the job's
// result after being marshalled to JSON.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

var ErrHandlerNotFound = errors.New("handler not found")

type handlerNotFoundError struct {
	Category string `json:"category"`
}

func (e *handlerNotFoundError) Error() string {
	return fmt.Sprintf("handler '%s' not found", e.Category)
}

func (e *handlerNotFoundError) Is(target error) bool {
	return target == ErrHandlerNotFound
}

type JobHandler struct {
	handlers map[string]HandlerFunc
	mutex    sync.RWMutex
}

func NewJobHandler() *JobHandler {
	return &JobHandler{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a new job handler by category.
func (jh *JobHandler) Register(category string, handler HandlerFunc) error {
	if category == "" || handler == nil {
		return errors.New("handler must have a category and function")
	}

	jh.mutex.Lock()
	defer jh.mutex.Unlock()

	if _, exists := jh.handlers[category]; exists {
		return fmt.Errorf("handler '%s' already registered", category)
	}
	jh.handlers[category] = handler
	return nil
}

func (jh *JobHandler) Exists(category string) bool {
	jh.mutex.RLock()
	defer jh.mutex.RUnlock()

	_, exists := jh.handlers[category]
	return exists
}

func (jh *JobHandler) Execute(ctx context.Context, category string, args json.RawMessage) (any, error) {
	jh.mutex.RLock()
	handler, exists := jh.handlers[category]
	jh.mutex.RUnlock()

	if !exists {
		return nil, &handlerNotFoundError{Category: category}
	}
	return handler(ctx, args)
}

// List returns the registered categories in sorted order.
func (jh *JobHandler) List() []string {
	jh.mutex.RLock()
	defer jh.mutex.RUnlock()

	names := make([]string, 0, len(jh.handlers))
	for name := range jh.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log wraps a package-level zap.SugaredLogger the way the rest of
// this codebase expects to call it (log.Infof, log.With(...), etc), without
// pulling in a global logging framework.
package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.RWMutex
	current = Default()
)

// Default returns a production-configured sugared logger.
func Default() *zap.SugaredLogger {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	return l.Sugar()
}

// SetGlobalLogger replaces the package-level logger. config.Configure calls
// it at process startup; tests may call it too.
func SetGlobalLogger(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// With returns a logger annotated with the given key/value pairs.
func With(args ...interface{}) *zap.SugaredLogger {
	return get().With(args...)
}

// Debugf logs at debug level.
func Debugf(template string, args ...interface{}) { get().Debugf(template, args...) }

// Infof logs at info level.
func Infof(template string, args ...interface{}) { get().Infof(template, args...) }

// Warnf logs at warn level.
func Warnf(template string, args ...interface{}) { get().Warnf(template, args...) }

// Errorf logs at error level.
func Errorf(template string, args ...interface{}) { get().Errorf(template, args...) }

// Info logs args at info level.
func Info(args ...interface{}) { get().Info(args...) }

// Error logs args at error level.
func Error(args ...interface{}) { get().Error(args...) }

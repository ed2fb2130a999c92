/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package crud

import (
	"regexp"

	"github.com/tomoncle/crudman/database"
)

type options struct {
	pattern  *regexp.Regexp
	typeName string
	logger   database.Logger
	metrics  *Metrics
}

// Option configures a Manager or a TableRegistry. Options that do not apply
// to the target are ignored.
type Option func(*options)

// WithNamePattern replaces DefaultNamePattern for table name resolution.
func WithNamePattern(pattern *regexp.Regexp) Option {
	return func(o *options) { o.pattern = pattern }
}

// WithTypeName sets the type name reported in errors by managers built with
// NewWithTable.
func WithTypeName(name string) Option {
	return func(o *options) { o.typeName = name }
}

func WithLogger(logger database.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(metrics *Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = database.GetLogger()
	}
	return o
}

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
	"errors"
	"fmt"
)

var (
	// ErrNamingMismatch is matched by *NamingMismatchError.
	ErrNamingMismatch = errors.New("type name does not match the table naming pattern")
	// ErrUnknownTable is matched by *UnknownTableError.
	ErrUnknownTable = errors.New("table does not exist")
	// ErrMethodNotFound is matched by *MethodNotFoundError.
	ErrMethodNotFound = errors.New("method not found")
	// ErrInvalidArgument reports missing or mistyped dispatch arguments.
	ErrInvalidArgument = errors.New("invalid argument")
)

// NamingMismatchError is returned when a manager type name cannot be turned
// into a table name. The manager is not usable.
type NamingMismatchError struct {
	TypeName string
	Pattern  string
}

func (e *NamingMismatchError) Error() string {
	return fmt.Sprintf("type name '%s' does not match the pattern '%s' for table name extraction", e.TypeName, e.Pattern)
}

func (e *NamingMismatchError) Is(target error) bool { return target == ErrNamingMismatch }

// UnknownTableError is returned when the resolved table is not in the
// database. The manager is not usable.
type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("table with name '%s' does not exist", e.Table)
}

func (e *UnknownTableError) Is(target error) bool { return target == ErrUnknownTable }

// MethodNotFoundError is returned by Manager.Call for names that are neither
// an alias nor a registered operation.
type MethodNotFoundError struct {
	Method string
	Type   string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("call to undefined method %s.%s()", e.Type, e.Method)
}

func (e *MethodNotFoundError) Is(target error) bool { return target == ErrMethodNotFound }

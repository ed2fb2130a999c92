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
	"reflect"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jinzhu/inflection"
)

// DefaultNamePattern extracts "Book" from "BookManager".
var DefaultNamePattern = regexp.MustCompile(`(\w+)Manager$`)

// ResolveTableName applies pattern to typeName and returns the first capture
// group in lower case. A nil pattern means DefaultNamePattern.
func ResolveTableName(typeName string, pattern *regexp.Regexp) (string, error) {
	if pattern == nil {
		pattern = DefaultNamePattern
	}
	matches := pattern.FindStringSubmatch(typeName)
	if len(matches) < 2 || matches[1] == "" {
		return "", &NamingMismatchError{TypeName: typeName, Pattern: pattern.String()}
	}
	return strings.ToLower(matches[1]), nil
}

// NameOf returns the declared name of T, dereferencing pointer types, so a
// concrete manager can pass NameOf[BookManager]() instead of a literal.
func NameOf[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// Capitalize upper-cases the first letter of s.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// Pluralize returns the English plural of word ("Book" -> "Books",
// "Category" -> "Categories").
func Pluralize(word string) string {
	return inflection.Plural(word)
}

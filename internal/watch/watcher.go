// Copyright 2025 Tetrate
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

package watch

// Callback is the signature of the callbacks.
type Callback func(Data)

// Data holds the data from the watcher.
type Data struct {
	Value FileValue
	Err   error
}

// FileValue holds the data stored in a file.
type FileValue struct {
	Name string
	Data []byte
}

// Watcher defines the interface that a watcher must implement.
type Watcher interface {
	// Watch is called to register callbacks to be notified when a watched named changes.
	Watch(string, ...Callback) error
	// Start is called to initiate the watches and provide a channel to signal when to stop watching.
	Start(<-chan struct{}) error
}

// Callbacker registers callbacks on a watcher.
type Callbacker interface {
	Watch(string, ...Callback) error
}

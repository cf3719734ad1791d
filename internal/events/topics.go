// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package events

import (
	"boatmon/pkg/eventbus"
	"time"
)

const pathTopicPrefix = "sk:"

// PathTopic is the bus topic carrying values bound to a Signal K path.
func PathTopic(path string) eventbus.Topic {
	return eventbus.Topic(pathTopicPrefix + path)
}

// PathTopics maps PathTopic over a list of paths.
func PathTopics(paths []string) []eventbus.Topic {
	topics := make([]eventbus.Topic, len(paths))
	for i, p := range paths {
		topics[i] = PathTopic(p)
	}
	return topics
}

// PathValue is published by outputs whenever a pipeline delivers a value.
type PathValue struct {
	Path  string
	Value any
	Time  time.Time
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import "github.com/sirupsen/logrus"

// log is the package-wide logger. Logging is a side channel only: no
// control-flow decision in this package ever depends on whether a log
// statement ran or what it said.
var log = logrus.New().WithField("pkg", "selfie")

func componentLog(component string) *logrus.Entry {
	return log.WithField("component", component)
}

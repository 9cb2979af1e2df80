/*
   openpgp-keychain - OpenPGP keyring construction and storage

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

package keyop

import (
	"context"

	"gopkg.in/tomb.v2"

	"github.com/tharinduwijewardane/openpgp-keychain/openpgp"
)

// BuildJob runs a keyring build on a worker goroutine. Stopping the job
// cancels the build up to the persistence step; a successfully persisted
// build cannot be undone.
type BuildJob struct {
	t tomb.Tomb

	Secret *openpgp.SecretKeyring
	Public *openpgp.PrimaryKey
}

// BuildAsync starts a keyring build in the background.
func (e *Engine) BuildAsync(params BuildParams) *BuildJob {
	job := &BuildJob{}
	ctx, cancel := context.WithCancel(context.Background())
	job.t.Go(func() error {
		<-job.t.Dying()
		cancel()
		return nil
	})
	job.t.Go(func() error {
		secret, public, err := e.BuildKeyring(ctx, params)
		if err == nil {
			job.Secret = secret
			job.Public = public
		}
		job.t.Kill(err)
		return err
	})
	return job
}

// Wait blocks until the build finishes and returns its error, if any.
func (job *BuildJob) Wait() error {
	return job.t.Wait()
}

// Stop cancels a running build and waits for the worker to exit.
func (job *BuildJob) Stop() error {
	job.t.Kill(nil)
	return job.t.Wait()
}

// Copyright 2025 recforge Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/recforge/recforge"
	"github.com/recforge/recforge/base/log"
	"github.com/recforge/recforge/model"
	"github.com/recforge/recforge/table"
)

var rootCmd = &cobra.Command{
	Use:   "recforge",
	Short: "recforge is a top-k recommendation scoring engine",
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Fit a scoring strategy on a CSV log and write top-k recommendations",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.SetLogger(cmd.Flags(), viper.GetBool("verbose"))
		if configPath := viper.GetString("config"); configPath != "" {
			viper.SetConfigFile(configPath)
			if err := viper.ReadInConfig(); err != nil {
				return errors.Trace(err)
			}
		}
		return errors.Trace(recommend(cmd.Context()))
	},
}

func init() {
	flags := recommendCmd.Flags()
	flags.String("config", "", "configuration file path (yaml)")
	flags.String("log", "", "interaction log CSV path")
	flags.String("users", "", "requested users CSV path (defaults to all users in the log)")
	flags.String("items", "", "candidate items CSV path (defaults to all items in the log)")
	flags.String("user-features", "", "user feature CSV path")
	flags.String("item-features", "", "item feature CSV path")
	flags.String("strategy", string(model.KindGraph), "scoring strategy: graph, seq_rnn, seq_attention, ngram, similarity, boost")
	flags.Int("k", 10, "recommendations per user")
	flags.Bool("filter-seen", false, "exclude items each user already interacted with")
	flags.Int64("seed", 0, "random seed")
	flags.Bool("verbose", false, "debug logging")
	flags.String("output", "recommendations.csv", "output CSV path")
	log.AddFlags(flags)
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(recommendCmd)
}

// optionalTable loads a CSV when a path was given.
func optionalTable(key, description string) (table.Table, error) {
	path := viper.GetString(key)
	if path == "" {
		return nil, nil
	}
	t, err := readTable(path, description)
	return t, errors.Trace(err)
}

// entityTable derives a one-column request table from the log when the
// caller did not supply one.
func entityTable(logTable table.Table, column string) table.Table {
	return logTable.Select(column).Distinct()
}

func recommend(ctx context.Context) error {
	logPath := viper.GetString("log")
	if logPath == "" {
		return errors.NotValidf("missing --log")
	}
	logTable, err := readTable(logPath, "load log")
	if err != nil {
		return errors.Trace(err)
	}
	userFeatures, err := optionalTable("user-features", "load user features")
	if err != nil {
		return errors.Trace(err)
	}
	itemFeatures, err := optionalTable("item-features", "load item features")
	if err != nil {
		return errors.Trace(err)
	}
	users, err := optionalTable("users", "load users")
	if err != nil {
		return errors.Trace(err)
	}
	if users == nil {
		users = entityTable(logTable, table.User)
	}
	items, err := optionalTable("items", "load items")
	if err != nil {
		return errors.Trace(err)
	}
	if items == nil {
		items = entityTable(logTable, table.Item)
	}

	session := recforge.Session{Logger: log.Logger(), RandomSeed: viper.GetInt64("seed")}
	engine, err := recforge.NewEngine(session, model.StrategyKind(viper.GetString("strategy")), nil)
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("fit strategy", zap.String("strategy", viper.GetString("strategy")))
	if err := engine.Fit(ctx, logTable, userFeatures, itemFeatures); err != nil {
		return errors.Trace(err)
	}
	out, err := engine.Predict(ctx, logTable, viper.GetInt("k"), users, items,
		userFeatures, itemFeatures, viper.GetBool("filter-seen"))
	if err != nil {
		return errors.Trace(err)
	}
	outputPath := viper.GetString("output")
	if err := writeTable(out, outputPath); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("wrote recommendations",
		zap.String("path", outputPath),
		zap.Int("n_rows", out.Len()))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"issuehub/internal/domain"
	"issuehub/internal/engine"
	"issuehub/internal/repo"
)

func spaceCmd() *cobra.Command {
	sp := &cobra.Command{Use: "space", Short: "Manage spaces"}
	sp.AddCommand(spaceCreateCmd())
	sp.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List spaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSpaces(ctx, e.Config.Organization.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Created")
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	sp.AddCommand(spaceAdminCmd("grant-admin", "Make an actor admin of a space", true))
	sp.AddCommand(spaceAdminCmd("revoke-admin", "Remove an actor's space admin grant", false))
	return sp
}

func spaceCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a space",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSpace(ctx, actor, id, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "space id")
	cmd.Flags().StringVar(&name, "name", "", "space name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func spaceAdminCmd(use, short string, grant bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <space-id> <actor-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if grant {
					err = e.AssignSpaceAdmin(ctx, actor, args[0], args[1])
				} else {
					err = e.RevokeSpaceAdmin(ctx, actor, args[0], args[1])
				}
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s on %s\n", use, args[1], args[0])
				return nil
			})
		},
	}
}

func actorCmd() *cobra.Command {
	ac := &cobra.Command{Use: "actor", Short: "Manage organization members"}
	ac.AddCommand(actorCreateCmd())
	ac.AddCommand(actorListCmd())
	ac.AddCommand(actorActiveCmd("activate", true))
	ac.AddCommand(actorActiveCmd("deactivate", false))
	ac.AddCommand(&cobra.Command{
		Use:   "device-token <token>",
		Short: "Register the acting actor's push device token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RegisterDeviceToken(ctx, actor, args[0])
			})
		},
	})
	return ac
}

func actorCreateCmd() *cobra.Command {
	var opts engine.ActorOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add an actor to the organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateActor(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "actor id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Role, "role", domain.RoleGeneralUser, "role: "+strings.Join(domain.Roles, ", "))
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func actorListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListActors(ctx, repo.ActorFilters{OrgID: e.Config.Organization.ID, Role: role})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Role", "Active", "Spaces")
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Role, a.Active, strings.Join(a.SpaceIDs, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func actorActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <actor-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SetActorActive(ctx, actor, args[0], active)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	kc := &cobra.Command{Use: "apikey", Short: "Manage API keys of the acting actor"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the key is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetActor(ctx, actor); err != nil {
					return fmt.Errorf("actor %s: %w", actor, err)
				}
				key, plain, err := e.Repo.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "name": key.Name, "key": plain})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	kc.AddCommand(create)
	kc.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	kc.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				for _, k := range keys {
					if k.ID == args[0] {
						return e.Repo.DeleteAPIKey(ctx, k.ID)
					}
				}
				return fmt.Errorf("api key %s: %w", args[0], repo.ErrNotFound)
			})
		},
	})
	return kc
}

func issueCmd() *cobra.Command {
	ic := &cobra.Command{Use: "issue", Short: "File and move issues"}
	ic.AddCommand(issueCreateCmd())
	ic.AddCommand(issueListCmd())
	ic.AddCommand(issueShowCmd())
	ic.AddCommand(issueUpdateCmd())
	ic.AddCommand(issueAssignCmd())
	ic.AddCommand(issueReviewersCmd())
	ic.AddCommand(issueStatusCmd())
	ic.AddCommand(issueEscalateCmd())
	ic.AddCommand(issueReassignCmd())
	ic.AddCommand(issueReopenCmd())
	ic.AddCommand(issueReviewCmd())
	ic.AddCommand(issueCommentCmd())
	return ic
}

// issueAction runs an issue mutation as the acting actor and prints the result.
func issueAction(cmd *cobra.Command, fn func(ctx context.Context, e engine.Engine, actor string) (domain.Issue, error)) error {
	actor, err := actorID()
	if err != nil {
		return err
	}
	return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
		issue, err := fn(ctx, e, actor)
		if err != nil {
			return err
		}
		return printJSONOrTable(issue)
	})
}

func issueCreateCmd() *cobra.Command {
	var opts engine.CreateIssueOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Report an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueAction(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Issue, error) {
				opts.ReporterID = actor
				return e.CreateIssue(ctx, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", domain.PriorityMedium, "low, medium, high or critical")
	cmd.Flags().StringVar(&opts.SpaceID, "space", "", "space id")
	cmd.Flags().StringSliceVar(&opts.ImageURLs, "image", nil, "initial image URL (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func issueListCmd() *cobra.Command {
	var f repo.IssueFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues visible to the acting actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListIssues(ctx, actor, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "Status", "Priority", "Assignee", "Space")
				for _, i := range items {
					tw.AppendRow(table.Row{i.ID, i.Title, i.Status, domain.PriorityLabel(i.Priority), deref(i.AssigneeID), deref(i.SpaceID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.SpaceID, "space", "", "space filter")
	cmd.Flags().StringVar(&f.ReporterID, "reporter", "", "reporter filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max issues")
	return cmd
}

func issueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show an issue with its work tasks, comments and images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				details, err := e.GetIssueDetails(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSON(details)
			})
		},
	}
}

func issueUpdateCmd() *cobra.Command {
	var title, description, priority string
	cmd := &cobra.Command{
		Use:   "update <issue-id>",
		Short: "Edit title, description or priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueAction(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Issue, error) {
				opts := engine.UpdateDetailsOptions{IssueID: args[0], ActorID: actor}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				return e.UpdateDetails(ctx, opts)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	return cmd
}

func issueAssignCmd() *cobra.Command {
	var opts engine.AssignOptions
	cmd := &cobra.Command{
		Use:   "assign <issue-id>",
		Short: "Assign an issue to a maintainer or supervisor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueAction(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Issue, error) {
				opts.IssueID = args[0]
				opts.ActorID = actor
				return e.Assign(ctx, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.AssigneeID, "to", "", "assignee actor id")
	cmd.Flags().BoolVar(&opts.RequiresReview, "requires-review", false, "require a reviewer before work starts")
	cmd.Flags().StringSliceVar(&opts.ReviewerIDs, "reviewer", nil, "reviewer actor id (repeatable)")
	cmd.Flags().StringVar(&opts.Comment, "comment", "", "history comment")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func issueReviewersCmd() *cobra.Command {
	var reviewers []string
	cmd := &cobra.Command{
		Use:   "reviewers <issue-id>",
		Short: "Replace the reviewer set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueAction(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Issue, error) {
				return e.SetReviewers(ctx, args[0], actor, reviewers)
			})
		},
	}
	cmd.Flags().StringSliceVar(&reviewers, "reviewer", nil, "reviewer actor id (repeatable)")
	return cmd
}

func issueStatusCmd() *cobra.Command {
	var opts engine.ChangeStatusOptions
	cmd := &cobra.Command{
		Use:   "status <issue-id> <status>",
		Short: "Move an issue to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueAction(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Issue, error) {
				opts.IssueID = args[0]
				opts.Status = args[1]
				opts.ActorID = actor
				return e.ChangeStatus(ctx, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Comment, "comment", "", "history comment")
	cmd.Flags().StringVar(&opts.ResolutionNotes, "notes", "", "resolution notes (required to resolve)")
	return cmd
}

func issueEscalateCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "escalate <issue-id>",
		Short: "Escalate an assigned issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueAction(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Issue, error) {
				return e.Escalate(ctx, args[0], actor, reason)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "escalation reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func issueReassignCmd() *cobra.Command {
	var opts engine.ReassignOptions
	cmd := &cobra.Command{
		Use:   "reassign <issue-id>",
		Short: "Hand an escalated issue to a new assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueAction(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Issue, error) {
				opts.IssueID = args[0]
				opts.ActorID = actor
				return e.ReassignEscalated(ctx, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.AssigneeID, "to", "", "new assignee actor id")
	cmd.Flags().StringVar(&opts.Message, "message", "", "message to the new assignee")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func issueReopenCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "reopen <issue-id>",
		Short: "Reopen a resolved or closed issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueAction(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Issue, error) {
				return e.Reopen(ctx, args[0], actor, comment)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "history comment")
	return cmd
}

func issueReviewCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "review <issue-id>",
		Short: "Record a review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueAction(cmd, func(ctx context.Context, e engine.Engine, actor string) (domain.Issue, error) {
				return e.Review(ctx, args[0], actor, notes)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}

func issueCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <issue-id> <body>",
		Short: "Comment on an issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, args[0], actor, args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func workTaskCmd() *cobra.Command {
	wc := &cobra.Command{Use: "worktask", Short: "Manage work tasks of an issue"}
	var opts engine.WorkTaskOptions
	add := &cobra.Command{
		Use:   "add <issue-id>",
		Short: "Add a work task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.IssueID = args[0]
				opts.ActorID = actor
				t, err := e.AddWorkTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	add.Flags().StringVar(&opts.Title, "title", "", "title")
	add.Flags().StringVar(&opts.Description, "description", "", "description")
	add.Flags().StringVar(&opts.AssigneeID, "assignee", "", "task assignee (defaults to the issue assignee)")
	_ = add.MarkFlagRequired("title")
	wc.AddCommand(add)
	wc.AddCommand(workTaskCompleteCmd("done", true))
	wc.AddCommand(workTaskCompleteCmd("undo", false))
	wc.AddCommand(&cobra.Command{
		Use:   "rm <task-id>",
		Short: "Delete a work task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteWorkTask(ctx, args[0], actor)
			})
		},
	})
	return wc
}

func workTaskCompleteCmd(use string, completed bool) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   use + " <task-id>",
		Short: "Mark a work task " + map[bool]string{true: "completed", false: "not completed"}[completed],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SetWorkTaskCompleted(ctx, args[0], actor, completed, notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	if completed {
		cmd.Flags().StringVar(&notes, "notes", "", "resolution notes")
	}
	return cmd
}

func focusCmd() *cobra.Command {
	fc := &cobra.Command{Use: "focus", Short: "Focus-mode work sessions"}
	fc.AddCommand(focusSessionCmd("enter <issue-id>", "Enter focus mode on an in-progress issue",
		func(ctx context.Context, e engine.Engine, actor, id string) (any, error) {
			return e.EnterFocusMode(ctx, id, actor)
		}))
	var breakType string
	startBreak := focusSessionCmd("break <session-id>", "Start a break",
		func(ctx context.Context, e engine.Engine, actor, id string) (any, error) {
			return e.StartBreak(ctx, id, actor, breakType)
		})
	startBreak.Flags().StringVar(&breakType, "type", "", "break type from focus.break_types")
	fc.AddCommand(startBreak)
	fc.AddCommand(focusSessionCmd("resume <session-id>", "End the open break",
		func(ctx context.Context, e engine.Engine, actor, id string) (any, error) {
			return e.EndBreak(ctx, id, actor)
		}))
	fc.AddCommand(focusSessionCmd("end <session-id>", "Leave focus mode",
		func(ctx context.Context, e engine.Engine, actor, id string) (any, error) {
			return e.EndSession(ctx, id, actor)
		}))
	fc.AddCommand(&cobra.Command{
		Use:   "active",
		Short: "Show the acting actor's open session",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ActiveSession(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})
	fc.AddCommand(&cobra.Command{
		Use:   "sessions <issue-id>",
		Short: "List work sessions of an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSessions(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Maintainer", "Started", "Ended", "Work (s)", "Break (s)")
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.MaintainerID, s.StartedAt, deref(s.EndedAt), s.TotalWorkSeconds, s.TotalBreakSeconds})
				}
				tw.Render()
				return nil
			})
		},
	})
	return fc
}

func focusSessionCmd(use, short string, fn func(ctx context.Context, e engine.Engine, actor, id string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := fn(ctx, e, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func logCmd() *cobra.Command {
	lc := &cobra.Command{Use: "log", Short: "Audit trail"}
	var n int
	var before int64
	activityCmd := &cobra.Command{
		Use:   "activity <issue-id>",
		Short: "Activity log of an issue, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListActivity(ctx, args[0], actor, n, before)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Type", "Actor", "Description", "Old", "New", "At")
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.ActivityType, deref(a.ActorID), a.Description, deref(a.OldValue), deref(a.NewValue), a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	activityCmd.Flags().IntVar(&n, "n", 20, "number of rows")
	activityCmd.Flags().Int64Var(&before, "before", 0, "only rows with an id below this cursor")
	lc.AddCommand(activityCmd)
	lc.AddCommand(&cobra.Command{
		Use:   "history <issue-id>",
		Short: "Status and assignment history of an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListHistory(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "From", "To", "Old assignee", "New assignee", "By", "Comment", "At")
				for _, h := range items {
					tw.AppendRow(table.Row{h.ID, h.OldStatus, h.NewStatus, deref(h.OldAssignee), deref(h.NewAssignee), h.ActorID, h.Comment, h.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return lc
}

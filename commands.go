package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"library-circulation/library"
)

// ------------------ Staff ------------------

func (a *app) initAdminCmd() *cobra.Command {
	var fullName string
	cmd := &cobra.Command{
		Use:   "init-admin <username>",
		Short: "Create the first admin account on an empty database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(fmt.Sprintf("Enter password for %s: ", args[0]))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			id, err := a.mgr.BootstrapAdmin(cmd.Context(), args[0], password, fullName)
			if err != nil {
				return err
			}
			fmt.Printf("Created admin '%s' with ID %d\n", args[0], id)
			return nil
		},
	}
	cmd.Flags().StringVar(&fullName, "name", "", "full name")
	return cmd
}

func (a *app) staffCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "staff", Short: "Manage staff accounts"}

	var role, fullName string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a staff account (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAdmin(); err != nil {
				return err
			}
			password, err := readPassword(fmt.Sprintf("Enter password for %s: ", args[0]))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			id, err := a.mgr.Staff.CreateStaff(cmd.Context(), args[0], password, library.Role(role), fullName)
			if err != nil {
				return err
			}
			fmt.Printf("Added %s '%s' with ID %d\n", role, args[0], id)
			return nil
		},
	}
	add.Flags().StringVar(&role, "role", string(library.RoleClerk), "admin or clerk")
	add.Flags().StringVar(&fullName, "name", "", "full name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List staff accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, err := a.mgr.Staff.ListStaff(cmd.Context())
			if err != nil {
				return err
			}
			printStaff(all)
			return nil
		},
	}

	var newUsername, newName, newRole string
	edit := &cobra.Command{
		Use:   "edit <staff-id>",
		Short: "Change a staff account's username, name or role (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAdmin(); err != nil {
				return err
			}
			id, err := parseID("staff", args[0])
			if err != nil {
				return err
			}
			up := library.StaffUpdate{
				Username: changedString(cmd, "username", newUsername),
				FullName: changedString(cmd, "name", newName),
			}
			if cmd.Flags().Changed("role") {
				role := library.Role(newRole)
				up.Role = &role
			}
			if err := a.mgr.Staff.UpdateStaff(cmd.Context(), id, up); err != nil {
				return err
			}
			fmt.Printf("Staff %d updated\n", id)
			return nil
		},
	}
	edit.Flags().StringVar(&newUsername, "username", "", "new username")
	edit.Flags().StringVar(&newName, "name", "", "new full name")
	edit.Flags().StringVar(&newRole, "role", "", "admin or clerk")

	del := &cobra.Command{
		Use:   "delete <staff-id>",
		Short: "Remove a staff account; accounts that issued loans are deactivated (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAdmin(); err != nil {
				return err
			}
			id, err := parseID("staff", args[0])
			if err != nil {
				return err
			}
			if err := a.mgr.Staff.DeleteStaff(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Staff %d removed\n", id)
			return nil
		},
	}

	search := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Find staff by username or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := a.mgr.Staff.SearchStaff(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Println("No staff found.")
				return nil
			}
			printStaff(found)
			return nil
		},
	}

	cmd.AddCommand(add, list, edit, del, search)
	return cmd
}

func printStaff(all []*library.Staff) {
	fmt.Printf("%-5s %-20s %-25s %-8s %s\n", "ID", "Username", "Name", "Role", "Active")
	fmt.Println(strings.Repeat("-", 70))
	for _, s := range all {
		fmt.Printf("%-5d %-20s %-25s %-8s %t\n",
			s.ID, library.Truncate(s.Username, 20), library.Truncate(s.FullName, 25), s.Role, s.Active)
	}
}

// changedString returns &v when the named flag was given on the command line.
func changedString(cmd *cobra.Command, name, v string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

// ------------------ Books ------------------

func (a *app) bookCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage the catalog"}

	var in library.BookInput
	var category string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a title",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if category != "" {
				id, err := a.mgr.AddCategory(ctx, category)
				if err != nil {
					return err
				}
				in.CategoryID = id
			}
			id, err := a.mgr.AddBook(ctx, in)
			if err != nil {
				return err
			}
			fmt.Printf("Added book ID %d with %d copies\n", id, in.TotalCopies)
			return nil
		},
	}
	add.Flags().StringVar(&in.Title, "title", "", "title")
	add.Flags().StringVar(&in.Author, "author", "", "author")
	add.Flags().StringVar(&in.ISBN, "isbn", "", "ISBN")
	add.Flags().StringVar(&in.Publisher, "publisher", "", "publisher")
	add.Flags().IntVar(&in.PublicationYear, "year", 0, "publication year")
	add.Flags().IntVar(&in.TotalCopies, "copies", 1, "number of copies")
	add.Flags().StringVar(&category, "category", "", "category name, created when missing")

	list := &cobra.Command{
		Use:   "list",
		Short: "List all titles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := a.mgr.GetAllBooks(cmd.Context())
			if err != nil {
				return err
			}
			if len(books) == 0 {
				fmt.Println("No books in library.")
				return nil
			}
			printBooks(books)
			return nil
		},
	}

	var filter library.BookFilter
	search := &cobra.Command{
		Use:   "search [keyword]",
		Short: "Search titles by keyword, author, category or availability",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				filter.Keyword = args[0]
			}
			books, err := a.mgr.SearchBooks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(books) == 0 {
				fmt.Println("No books found.")
				return nil
			}
			fmt.Printf("Found %d book(s):\n", len(books))
			printBooks(books)
			return nil
		},
	}
	search.Flags().StringVar(&filter.Author, "author", "", "author contains")
	search.Flags().Int64Var(&filter.CategoryID, "category", 0, "category ID")
	search.Flags().BoolVar(&filter.AvailableOnly, "available", false, "only titles with a copy on the shelf")

	copies := &cobra.Command{
		Use:   "copies <book-id> <total>",
		Short: "Change how many copies the library owns",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			var total int
			if _, err := fmt.Sscan(args[1], &total); err != nil {
				return fmt.Errorf("invalid total: %s", args[1])
			}
			if err := a.mgr.Catalog.SetTotalCopies(cmd.Context(), id, total); err != nil {
				return err
			}
			fmt.Printf("Book %d now has %d copies\n", id, total)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Remove a title with no open loans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			if err := a.mgr.DeleteBook(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Book %d removed\n", id)
			return nil
		},
	}

	var (
		edTitle, edAuthor, edISBN string
		edPublisher, edCategory   string
		edYear                    int
	)
	edit := &cobra.Command{
		Use:   "edit <book-id>",
		Short: "Change a title's details; only the flags given are changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			up := library.BookUpdate{
				Title:     changedString(cmd, "title", edTitle),
				Author:    changedString(cmd, "author", edAuthor),
				ISBN:      changedString(cmd, "isbn", edISBN),
				Publisher: changedString(cmd, "publisher", edPublisher),
			}
			if cmd.Flags().Changed("year") {
				up.PublicationYear = &edYear
			}
			if cmd.Flags().Changed("category") {
				var catID int64
				if edCategory != "" {
					if catID, err = a.mgr.AddCategory(ctx, edCategory); err != nil {
						return err
					}
				}
				up.CategoryID = &catID
			}
			if err := a.mgr.UpdateBook(ctx, id, up); err != nil {
				return err
			}
			fmt.Printf("Book %d updated\n", id)
			return nil
		},
	}
	edit.Flags().StringVar(&edTitle, "title", "", "title")
	edit.Flags().StringVar(&edAuthor, "author", "", "author")
	edit.Flags().StringVar(&edISBN, "isbn", "", "ISBN")
	edit.Flags().StringVar(&edPublisher, "publisher", "", "publisher")
	edit.Flags().IntVar(&edYear, "year", 0, "publication year")
	edit.Flags().StringVar(&edCategory, "category", "", "category name; empty clears it")

	cmd.AddCommand(add, list, search, copies, edit, del)
	return cmd
}

func printBooks(books []*library.Book) {
	fmt.Printf("%-5s %-30s %-25s %-15s %-12s %s\n", "ID", "Title", "Author", "ISBN", "Category", "Available")
	fmt.Println(strings.Repeat("-", 100))
	for _, b := range books {
		fmt.Printf("%-5d %-30s %-25s %-15s %-12s %d/%d\n",
			b.ID,
			library.Truncate(b.Title, 30),
			library.Truncate(b.Author, 25),
			library.Truncate(b.ISBN, 15),
			library.Truncate(b.CategoryName, 12),
			b.AvailableCopies, b.TotalCopies)
	}
}

// ------------------ Members ------------------

func (a *app) memberCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Manage members"}

	var in library.MemberInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a member",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.mgr.AddMember(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Printf("Added member '%s %s' with ID %d\n", in.FirstName, in.LastName, id)
			return nil
		},
	}
	add.Flags().StringVar(&in.FirstName, "first", "", "first name")
	add.Flags().StringVar(&in.LastName, "last", "", "last name")
	add.Flags().StringVar(&in.Email, "email", "", "email address")
	add.Flags().StringVar(&in.Phone, "phone", "", "phone number")
	add.Flags().StringVar(&in.Address, "address", "", "postal address")

	var withDebt bool
	var keyword string
	list := &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				members []*library.Member
				err     error
			)
			switch {
			case withDebt:
				members, err = a.mgr.Catalog.MembersWithDebt(cmd.Context())
			case keyword != "":
				members, err = a.mgr.Catalog.SearchMembers(cmd.Context(), keyword)
			default:
				members, err = a.mgr.GetAllMembers(cmd.Context())
			}
			if err != nil {
				return err
			}
			if len(members) == 0 {
				fmt.Println("No members found.")
				return nil
			}
			fmt.Printf("%-5s %-30s %-30s %-8s %10s\n", "ID", "Name", "Email", "Active", "Debt")
			fmt.Println(strings.Repeat("-", 88))
			for _, m := range members {
				fmt.Printf("%-5d %-30s %-30s %-8t %10s\n",
					m.ID, library.Truncate(m.FullName(), 30), library.Truncate(m.Email, 30), m.Active,
					library.FormatMoney(m.TotalDebt))
			}
			return nil
		},
	}
	list.Flags().BoolVar(&withDebt, "debt", false, "only members who owe money")
	list.Flags().StringVar(&keyword, "search", "", "match name, email or phone")

	deactivate := &cobra.Command{
		Use:   "deactivate <member-id>",
		Short: "Stop a member from borrowing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("member", args[0])
			if err != nil {
				return err
			}
			if err := a.mgr.Catalog.SetMemberActive(cmd.Context(), id, false); err != nil {
				return err
			}
			fmt.Printf("Member %d deactivated\n", id)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <member-id>",
		Short: "Remove a member with no open loans and no debt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("member", args[0])
			if err != nil {
				return err
			}
			if err := a.mgr.DeleteMember(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Member %d removed\n", id)
			return nil
		},
	}

	summary := &cobra.Command{
		Use:   "summary <member-id>",
		Short: "Show a member's loans and debt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("member", args[0])
			if err != nil {
				return err
			}
			s, err := a.mgr.MemberSummary(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("Member:            %s (ID: %d)\n", s.Member.FullName(), s.Member.ID)
			fmt.Printf("Registered:        %s\n", s.Member.RegisteredOn.Format(time.DateOnly))
			fmt.Printf("Active:            %t\n", s.Member.Active)
			fmt.Printf("Loans:             %d total, %d active, %d overdue\n", s.TotalLoans, s.ActiveLoans, s.OverdueLoans)
			fmt.Printf("Unpaid penalties:  %d\n", s.UnpaidPenalties)
			fmt.Printf("Debt:              %s\n", library.FormatMoney(s.OutstandingDebt))
			if !s.OutstandingDebt.Equal(s.Member.TotalDebt) {
				fmt.Printf("Cached debt:       %s (out of sync, run 'debt audit')\n", library.FormatMoney(s.Member.TotalDebt))
			}
			if s.ProjectedPenalty.IsPositive() {
				fmt.Printf("Accruing:          %s if overdue loans come back today\n", library.FormatMoney(s.ProjectedPenalty))
			}
			return nil
		},
	}

	var edFirst, edLast, edEmail, edPhone, edAddress string
	edit := &cobra.Command{
		Use:   "edit <member-id>",
		Short: "Change a member's details; only the flags given are changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("member", args[0])
			if err != nil {
				return err
			}
			up := library.MemberUpdate{
				FirstName: changedString(cmd, "first", edFirst),
				LastName:  changedString(cmd, "last", edLast),
				Email:     changedString(cmd, "email", edEmail),
				Phone:     changedString(cmd, "phone", edPhone),
				Address:   changedString(cmd, "address", edAddress),
			}
			if err := a.mgr.UpdateMember(cmd.Context(), id, up); err != nil {
				return err
			}
			fmt.Printf("Member %d updated\n", id)
			return nil
		},
	}
	edit.Flags().StringVar(&edFirst, "first", "", "first name")
	edit.Flags().StringVar(&edLast, "last", "", "last name")
	edit.Flags().StringVar(&edEmail, "email", "", "email address")
	edit.Flags().StringVar(&edPhone, "phone", "", "phone number")
	edit.Flags().StringVar(&edAddress, "address", "", "postal address")

	cmd.AddCommand(add, list, edit, deactivate, del, summary)
	return cmd
}

// ------------------ Circulation ------------------

func (a *app) loanCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "loan", Short: "Issue and return loans"}

	issue := &cobra.Command{
		Use:   "issue <member-id> <book-id>",
		Short: "Lend a copy of a title to a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			memberID, err := parseID("member", args[0])
			if err != nil {
				return err
			}
			bookID, err := parseID("book", args[1])
			if err != nil {
				return err
			}
			res, err := a.mgr.IssueLoan(cmd.Context(), memberID, bookID, a.staffID())
			if err != nil {
				return err
			}
			if res.OK {
				fmt.Printf("Loan ID %d: ", res.Loan.ID)
			}
			return report(res.Outcome)
		},
	}

	var on string
	ret := &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Close a loan and charge any late penalty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loanID, err := parseID("loan", args[0])
			if err != nil {
				return err
			}
			var date time.Time
			if on != "" {
				if date, err = time.Parse(time.DateOnly, on); err != nil {
					return fmt.Errorf("invalid --on date %q, want YYYY-MM-DD", on)
				}
			}
			res, err := a.mgr.ReturnLoanOn(cmd.Context(), loanID, date)
			if err != nil {
				return err
			}
			return report(res.Outcome)
		},
	}
	ret.Flags().StringVar(&on, "on", "", "return date YYYY-MM-DD (default today)")

	var f library.LoanFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List loans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loans, err := a.mgr.Loans.ListLoans(cmd.Context(), f)
			if err != nil {
				return err
			}
			if len(loans) == 0 {
				fmt.Println("No loans found.")
				return nil
			}
			fmt.Printf("%-5s %-25s %-30s %-10s %-10s %-12s\n", "ID", "Member", "Title", "Loaned", "Due", "Status")
			fmt.Println(strings.Repeat("-", 98))
			for _, v := range loans {
				fmt.Println(library.PrettyLoan(v))
			}
			return nil
		},
	}
	list.Flags().BoolVar(&f.ActiveOnly, "active", false, "only loans not yet returned")
	list.Flags().BoolVar(&f.OverdueOnly, "overdue", false, "only active loans past their due date")
	list.Flags().Int64Var(&f.MemberID, "member", 0, "only this member's loans")
	list.Flags().Int64Var(&f.BookID, "book", 0, "only loans of this title")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count loans by state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.mgr.Loans.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Total: %d | Active: %d | Returned: %d | Overdue: %d\n", s.Total, s.Active, s.Returned, s.Overdue)
			return nil
		},
	}

	cmd.AddCommand(issue, ret, list, stats)
	return cmd
}

// ------------------ Penalties ------------------

func (a *app) penaltyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "penalty", Short: "Charge, settle and correct penalties"}

	var note string
	add := &cobra.Command{
		Use:   "add <member-id> <amount>",
		Short: "Charge a member a manual penalty",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			memberID, err := parseID("member", args[0])
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount: %s", args[1])
			}
			res, err := a.mgr.CreateManualPenalty(cmd.Context(), memberID, amount, note)
			if err != nil {
				return err
			}
			return report(res.Outcome)
		},
	}
	add.Flags().StringVar(&note, "note", "", "reason for the charge")

	pay := &cobra.Command{
		Use:   "pay <penalty-id>",
		Short: "Record payment of a penalty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("penalty", args[0])
			if err != nil {
				return err
			}
			res, err := a.mgr.PayPenalty(cmd.Context(), id)
			if err != nil {
				return err
			}
			return report(res.Outcome)
		},
	}

	del := &cobra.Command{
		Use:   "delete <penalty-id>",
		Short: "Remove an unpaid penalty entered in error (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAdmin(); err != nil {
				return err
			}
			id, err := parseID("penalty", args[0])
			if err != nil {
				return err
			}
			res, err := a.mgr.DeletePenalty(cmd.Context(), a.staff, id)
			if err != nil {
				return err
			}
			return report(res.Outcome)
		},
	}

	var pf library.PenaltyFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List penalties, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ps, err := a.mgr.Penalties.ListPenalties(cmd.Context(), pf)
			if err != nil {
				return err
			}
			if len(ps) == 0 {
				fmt.Println("No penalties found.")
				return nil
			}
			fmt.Printf("%-5s %-7s %-7s %10s %-5s %-6s %s\n", "ID", "Member", "Loan", "Amount", "Days", "Paid", "Note")
			fmt.Println(strings.Repeat("-", 70))
			for _, p := range ps {
				loan := "manual"
				if !p.IsManual() {
					loan = fmt.Sprint(p.LoanID)
				}
				fmt.Printf("%-5d %-7d %-7s %10s %-5d %-6t %s\n",
					p.ID, p.MemberID, loan, library.FormatMoney(p.Amount), p.DaysLate, p.Paid, library.Truncate(p.Note, 30))
			}
			return nil
		},
	}
	list.Flags().Int64Var(&pf.MemberID, "member", 0, "only this member's penalties")
	list.Flags().BoolVar(&pf.UnpaidOnly, "unpaid", false, "only unpaid penalties")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the penalty ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.mgr.Penalties.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Penalties: %d (%d unpaid)\n", s.Count, s.UnpaidCount)
			fmt.Printf("Charged: %s | Paid: %s | Outstanding: %s\n",
				library.FormatMoney(s.Total), library.FormatMoney(s.Paid), library.FormatMoney(s.Outstanding))
			return nil
		},
	}

	cmd.AddCommand(add, pay, del, list, stats)
	return cmd
}

// ------------------ Debt ------------------

func (a *app) debtCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "debt", Short: "Inspect member debt"}

	show := &cobra.Command{
		Use:   "show <member-id>",
		Short: "Sum a member's unpaid penalties",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("member", args[0])
			if err != nil {
				return err
			}
			debt, err := a.mgr.GetMemberOutstandingDebt(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("Member %d owes %s\n", id, library.FormatMoney(debt))
			return nil
		},
	}

	audit := &cobra.Command{
		Use:   "audit",
		Short: "Compare cached member debt with the penalty ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			diffs, err := a.mgr.Penalties.AuditDebts(cmd.Context())
			if err != nil {
				return err
			}
			if len(diffs) == 0 {
				fmt.Println("All member debts match their unpaid penalties.")
				return nil
			}
			fmt.Printf("%-8s %12s %12s\n", "Member", "Cached", "Ledger")
			fmt.Println(strings.Repeat("-", 34))
			for _, d := range diffs {
				fmt.Printf("%-8d %12s %12s\n", d.MemberID, library.FormatMoney(d.Cached), library.FormatMoney(d.Recomputed))
			}
			return fmt.Errorf("%d member(s) out of sync", len(diffs))
		},
	}

	cmd.AddCommand(show, audit)
	return cmd
}

// ------------------ Reports ------------------

func (a *app) reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Catalog and circulation reports"}

	var inStock, outOfStock bool
	books := &cobra.Command{
		Use:   "books",
		Short: "List titles with how often each was lent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stock := library.AllTitles
			switch {
			case inStock && outOfStock:
				return errors.New("--in-stock and --out-of-stock are exclusive")
			case inStock:
				stock = library.InStock
			case outOfStock:
				stock = library.OutOfStock
			}
			rows, err := a.mgr.Reports.BookReport(cmd.Context(), stock)
			if err != nil {
				return err
			}
			printActivity(rows)
			return nil
		},
	}
	books.Flags().BoolVar(&inStock, "in-stock", false, "only titles with a copy on the shelf")
	books.Flags().BoolVar(&outOfStock, "out-of-stock", false, "only titles with every copy out")

	var limit int
	popular := &cobra.Command{
		Use:   "popular",
		Short: "List the most borrowed titles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := a.mgr.Reports.MostBorrowed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printActivity(rows)
			return nil
		},
	}
	popular.Flags().IntVar(&limit, "limit", 20, "maximum number of titles")

	period := &cobra.Command{
		Use:   "period <from> <to>",
		Short: "List loans issued or returned between two dates (YYYY-MM-DD)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := time.Parse(time.DateOnly, args[0])
			if err != nil {
				return fmt.Errorf("invalid start date: %s", args[0])
			}
			to, err := time.Parse(time.DateOnly, args[1])
			if err != nil {
				return fmt.Errorf("invalid end date: %s", args[1])
			}
			loans, err := a.mgr.Reports.LoansBetween(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			if len(loans) == 0 {
				fmt.Println("No loans in that period.")
				return nil
			}
			fmt.Printf("%-5s %-25s %-30s %-10s %-10s %-10s %5s %10s\n",
				"ID", "Member", "Title", "Loaned", "Due", "Returned", "Late", "Charged")
			fmt.Println(strings.Repeat("-", 113))
			for _, l := range loans {
				returned := "-"
				if l.ReturnedOn != nil {
					returned = l.ReturnedOn.Format(time.DateOnly)
				}
				fmt.Printf("%-5d %-25s %-30s %-10s %-10s %-10s %5d %10s\n",
					l.ID, library.Truncate(l.MemberName, 25), library.Truncate(l.BookTitle, 30),
					l.LoanedOn.Format(time.DateOnly), l.DueOn.Format(time.DateOnly), returned,
					l.DaysLate, library.FormatMoney(l.Charged))
			}
			return nil
		},
	}

	cmd.AddCommand(books, popular, period)
	return cmd
}

func printActivity(rows []*library.BookActivity) {
	if len(rows) == 0 {
		fmt.Println("No books found.")
		return
	}
	fmt.Printf("%-5s %-30s %-25s %-12s %6s %6s %5s\n", "ID", "Title", "Author", "Category", "Total", "Shelf", "Lent")
	fmt.Println(strings.Repeat("-", 95))
	for _, r := range rows {
		fmt.Printf("%-5d %-30s %-25s %-12s %6d %6d %5d\n",
			r.ID, library.Truncate(r.Title, 30), library.Truncate(r.Author, 25), library.Truncate(r.CategoryName, 12),
			r.TotalCopies, r.AvailableCopies, r.TimesLent)
	}
}
